package client

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/aeolun/tinychat/pkg/server"
	"github.com/gorilla/websocket"
)

// Transport names, matching the server's session transport labels
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

const (
	defaultTCPPort       = "6470"
	defaultWebSocketPort = "6471"
	defaultWebSocketPath = "/ws"

	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	endWriteTimeout  = time.Second
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// Connection is an authenticated client session with a server
type Connection struct {
	addr      string
	transport string
	dial      func() (net.Conn, error)

	mu        sync.RWMutex
	stream    *protocol.MessageStream
	username  string
	connected bool
	started   bool

	// Written only by readLoop, closed when it exits
	incoming chan protocol.Packet
	errors   chan error

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *log.Logger

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection prepares a connection to addr. A bare host:port uses TCP
// unless useWebSocket is set; ws:// and tcp:// pick the transport explicitly.
func NewConnection(addr string, useWebSocket bool) (*Connection, error) {
	cfg, err := parseServerAddress(addr, useWebSocket)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:      cfg.display,
		transport: cfg.transport,
		dial:      cfg.dial,
		incoming:  make(chan protocol.Packet, 100),
		errors:    make(chan error, 1),
		shutdown:  make(chan struct{}),
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server and authenticates as username. On success the
// connection starts delivering server messages on Incoming.
func (c *Connection) Connect(username string) (*handshake.Result, error) {
	c.mu.Lock()
	if c.connected || c.started {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.logf("Connecting to %s over %s...", c.addr, c.transport)
	conn, err := c.dial()
	if err != nil {
		c.logf("Connection failed: %v", err)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	stream := protocol.NewMessageStream(&countingConn{Conn: conn, sent: &c.bytesSent, received: &c.bytesReceived})
	result, err := handshake.Client(stream, username, handshake.WithTimeout(handshakeTimeout))
	if err != nil {
		c.logf("Handshake failed: %v", err)
		stream.Close()
		return nil, err
	}

	c.mu.Lock()
	c.stream = stream
	c.username = result.Username
	c.connected = true
	c.started = true
	c.mu.Unlock()

	c.logf("Authenticated as %s on %s", result.Username, c.addr)

	c.wg.Add(1)
	go c.readLoop(stream)

	return result, nil
}

// SendChat sends a chat line to the server
func (c *Connection) SendChat(message string) error {
	stream, err := c.liveStream()
	if err != nil {
		return err
	}
	return stream.WriteMessage(&protocol.ClientChat{Message: message})
}

func (c *Connection) liveStream() (*protocol.MessageStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	return c.stream, nil
}

// Incoming returns server messages received after authentication. It is
// closed when the session ends.
func (c *Connection) Incoming() <-chan protocol.Packet {
	return c.incoming
}

// Errors delivers at most one error: the reason the session ended, when it
// was not a server End or a local Close
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// IsConnected returns whether the session is live
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// Transport returns "tcp" or "websocket"
func (c *Connection) Transport() string {
	return c.transport
}

// Username returns the authenticated username
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// GetBytesSent returns the total bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// Close ends the session, telling the server why if it is still listening
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.shutdown)

		c.mu.Lock()
		stream := c.stream
		wasConnected := c.connected
		started := c.started
		c.connected = false
		c.mu.Unlock()

		if wasConnected {
			c.logf("Disconnecting from %s: %s", c.addr, reason)
			_ = stream.SetDeadline(time.Now().Add(endWriteTimeout))
			if err := stream.WriteMessage(&protocol.ClientEnd{Reason: reason}); err != nil {
				c.logf("End not delivered: %v", err)
			}
		}
		if stream != nil {
			stream.Close()
		}

		if started {
			c.wg.Wait()
		} else {
			close(c.incoming)
			close(c.errors)
		}
	})
}

func (c *Connection) readLoop(stream *protocol.MessageStream) {
	defer c.wg.Done()
	defer close(c.errors)
	defer close(c.incoming)

	for {
		p, err := stream.ReadMessage()
		if err != nil {
			if c.markDisconnected() {
				c.logf("Read error: %v", err)
				c.errors <- fmt.Errorf("disconnected from server: %w", err)
			}
			return
		}

		c.logf("← RECV: %s", p)
		select {
		case c.incoming <- p:
		case <-c.shutdown:
			return
		}

		if _, ok := p.(*protocol.ServerEnd); ok {
			c.markDisconnected()
			stream.Close()
			return
		}
	}
}

// markDisconnected reports whether the session was still live
func (c *Connection) markDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.connected
	c.connected = false
	return was
}

// countingConn counts bytes on the wire
type countingConn struct {
	net.Conn
	sent     *atomic.Uint64
	received *atomic.Uint64
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.received.Add(uint64(n))
	}
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.sent.Add(uint64(n))
	}
	return n, err
}

type dialConfig struct {
	display   string
	transport string
	dial      func() (net.Conn, error)
}

func parseServerAddress(raw string, useWebSocket bool) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	if useWebSocket {
		scheme = "ws"
	}
	hostPort := trimmed
	path := defaultWebSocketPath
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		scheme = strings.ToLower(u.Scheme)
		hostPort = u.Host
		if u.Path != "" && u.Path != "/" {
			path = u.Path
		}
	}

	switch scheme {
	case "tcp":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display:   address,
			transport: TransportTCP,
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, dialTimeout)
			},
		}, nil

	case "ws":
		host, port, err := splitHostPortWithDefault(hostPort, defaultWebSocketPort)
		if err != nil {
			return nil, err
		}

		u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: path}
		return &dialConfig{
			display:   u.String(),
			transport: TransportWebSocket,
			dial: func() (net.Conn, error) {
				return DialWebSocket(u.String())
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

// DialWebSocket connects to a server's WebSocket endpoint
func DialWebSocket(rawURL string) (net.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	ws, _, err := dialer.Dial(rawURL, nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, fmt.Errorf("websocket handshake failed, is %s a tinychat WebSocket endpoint: %w", rawURL, err)
		}
		return nil, err
	}
	return server.NewWebSocketConn(ws), nil
}
