package server

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Terminal clients send no Origin worth checking
		return true
	},
}

// WebSocketListener is a net.Listener fed by HTTP upgrade requests, so the
// same accept loop serves TCP and WebSocket clients. Mount it on an
// http.ServeMux and hand it to NewClientHandler.
type WebSocketListener struct {
	addr      net.Addr
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex // Protects deadline
	deadline time.Time
}

// NewWebSocketListener creates a listener that reports addr as its address
func NewWebSocketListener(addr net.Addr) *WebSocketListener {
	return &WebSocketListener{
		addr:   addr,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and waits for the accept loop to take the
// connection
func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := NewWebSocketConn(ws)

	select {
	case l.conns <- conn:
	case <-l.closed:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

// Accept waits for the next upgraded connection or the deadline
func (l *WebSocketListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	deadline := l.deadline
	l.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, l.opError(os.ErrDeadlineExceeded)
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, l.opError(net.ErrClosed)
	case <-expired:
		return nil, l.opError(os.ErrDeadlineExceeded)
	}
}

// SetDeadline bounds the next Accept calls. The zero time waits forever.
func (l *WebSocketListener) SetDeadline(t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadline = t
	return nil
}

// Close stops handing out connections. It does not close the HTTP server.
func (l *WebSocketListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

// Addr returns the HTTP server's listen address
func (l *WebSocketListener) Addr() net.Addr {
	return l.addr
}

func (l *WebSocketListener) opError(err error) error {
	return &net.OpError{Op: "accept", Net: "websocket", Addr: l.addr, Err: err}
}

// WebSocketConn adapts a WebSocket connection to net.Conn. Each Write is
// sent as one binary message; reads span message boundaries so the frame
// decoder sees a byte stream.
type WebSocketConn struct {
	ws *websocket.Conn

	readMu sync.Mutex // Protects reader
	reader io.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps an upgraded connection
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

// Read implements net.Conn.Read
func (c *WebSocketConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			messageType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			// Only binary messages carry frames
			if messageType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(b)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write implements net.Conn.Write
func (c *WebSocketConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close message and closes the underlying connection
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// LocalAddr implements net.Conn.LocalAddr
func (c *WebSocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr implements net.Conn.RemoteAddr
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// SetDeadline implements net.Conn.SetDeadline
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.SetReadDeadline
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.SetWriteDeadline
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
