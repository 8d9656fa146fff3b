package client

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/aeolun/tinychat/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerAddress(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		ws        bool
		display   string
		transport string
	}{
		{"host and port", "example.com:1234", false, "example.com:1234", TransportTCP},
		{"default tcp port", "example.com", false, "example.com:6470", TransportTCP},
		{"tcp scheme", "tcp://example.com:99", false, "example.com:99", TransportTCP},
		{"websocket flag", "example.com", true, "ws://example.com:6471/ws", TransportWebSocket},
		{"websocket flag with port", "example.com:8080", true, "ws://example.com:8080/ws", TransportWebSocket},
		{"ws scheme with path", "ws://example.com:1/chat", false, "ws://example.com:1/chat", TransportWebSocket},
		{"ipv6 without port", "[::1]", false, "[::1]:6470", TransportTCP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseServerAddress(tt.raw, tt.ws)
			require.NoError(t, err)
			assert.Equal(t, tt.display, cfg.display)
			assert.Equal(t, tt.transport, cfg.transport)
			assert.NotNil(t, cfg.dial)
		})
	}
}

func TestParseServerAddressErrors(t *testing.T) {
	_, err := parseServerAddress("udp://example.com", false)
	assert.ErrorContains(t, err, "unsupported")

	_, err = parseServerAddress("wss://example.com", false)
	assert.ErrorContains(t, err, "unsupported")

	_, err = parseServerAddress("   ", false)
	assert.ErrorContains(t, err, "empty")
}

// startServer runs a client handler on loopback TCP
func startServer(t *testing.T) *server.ClientHandler {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h, err := server.NewClientHandler(ln, server.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Stop()
		ln.Close()
	})
	return h
}

func connect(t *testing.T, addr, username string) *Connection {
	t.Helper()
	conn, err := NewConnection(addr, false)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close("test done") })

	result, err := conn.Connect(username)
	require.NoError(t, err)
	assert.Equal(t, username, result.Username)
	return conn
}

func TestConnectAuthenticates(t *testing.T) {
	h := startServer(t)
	conn := connect(t, h.Addr().String(), "alice")

	assert.True(t, conn.IsConnected())
	assert.Equal(t, "alice", conn.Username())
	assert.Equal(t, TransportTCP, conn.Transport())
	assert.Greater(t, conn.GetBytesSent(), uint64(0))
	assert.Greater(t, conn.GetBytesReceived(), uint64(0))

	_, err := conn.Connect("alice")
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectRejectedUsername(t *testing.T) {
	h := startServer(t)
	connect(t, h.Addr().String(), "alice")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	second, err := NewConnection(h.Addr().String(), false)
	require.NoError(t, err)
	defer second.Close("test done")

	_, err = second.Connect("alice")
	require.ErrorIs(t, err, handshake.ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "Username already taken")
	assert.False(t, second.IsConnected())
	assert.ErrorIs(t, second.SendChat("hello"), ErrNotConnected)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conn, err := NewConnection(addr, false)
	require.NoError(t, err)
	defer conn.Close("")

	_, err = conn.Connect("alice")
	assert.ErrorContains(t, err, "failed to connect")
}

func TestServerEndClosesSession(t *testing.T) {
	h := startServer(t)
	conn := connect(t, h.Addr().String(), "bob")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	session, ok := h.Registry().Remove("bob")
	require.True(t, ok)
	require.NoError(t, session.Send(&protocol.ServerEnd{Reason: "bye"}))

	select {
	case p := <-conn.Incoming():
		assert.Equal(t, &protocol.ServerEnd{Reason: "bye"}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no End received")
	}

	// The channel closes after End, with no error reported
	_, open := <-conn.Incoming()
	assert.False(t, open)
	_, open = <-conn.Errors()
	assert.False(t, open)
	assert.False(t, conn.IsConnected())
}

func TestDroppedConnectionReportsError(t *testing.T) {
	h := startServer(t)
	conn := connect(t, h.Addr().String(), "carol")
	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)

	session, ok := h.Registry().Remove("carol")
	require.True(t, ok)
	session.Stream.Close()

	select {
	case err, ok := <-conn.Errors():
		require.True(t, ok)
		assert.ErrorContains(t, err, "disconnected from server")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	assert.False(t, conn.IsConnected())
}

func TestCloseSendsEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan protocol.Packet, 2)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		stream := protocol.NewMessageStream(c)
		if _, err := handshake.Server(stream, nil); err != nil {
			return
		}
		for {
			p, err := stream.ReadMessage()
			if err != nil {
				return
			}
			received <- p
		}
	}()

	conn, err := NewConnection(ln.Addr().String(), false)
	require.NoError(t, err)
	_, err = conn.Connect("dave")
	require.NoError(t, err)

	require.NoError(t, conn.SendChat("hello"))
	conn.Close("leaving")
	conn.Close("again")

	assert.Equal(t, &protocol.ClientChat{Message: "hello"}, <-received)
	assert.Equal(t, &protocol.ClientEnd{Reason: "leaving"}, <-received)
	assert.False(t, conn.IsConnected())
}

func TestCloseWithoutConnect(t *testing.T) {
	conn, err := NewConnection("localhost", false)
	require.NoError(t, err)
	conn.Close("never connected")

	_, open := <-conn.Incoming()
	assert.False(t, open)
}

func TestConnectOverWebSocket(t *testing.T) {
	l := server.NewWebSocketListener(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	srv := httptest.NewServer(l)
	defer srv.Close()
	defer l.Close()

	h, err := server.NewClientHandler(l,
		server.WithTransport("websocket"),
		server.WithPollInterval(20*time.Millisecond),
	)
	require.NoError(t, err)
	defer h.Stop()

	conn, err := NewConnection(strings.TrimPrefix(srv.URL, "http://"), true)
	require.NoError(t, err)
	defer conn.Close("test done")
	assert.Equal(t, TransportWebSocket, conn.Transport())

	_, err = conn.Connect("wendy")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "websocket", h.Registry().Sessions()[0].Transport)
}
