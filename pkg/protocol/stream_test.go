package protocol

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamPair(t *testing.T) (*MessageStream, *MessageStream) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewMessageStream(a), NewMessageStream(b)
}

func TestMessageStreamSendReceive(t *testing.T) {
	client, server := newStreamPair(t)

	go func() {
		_ = client.WriteMessage(&ClientAuthenticate{Username: "alice"})
	}()

	p, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, &ClientAuthenticate{Username: "alice"}, p)
}

func TestMessageStreamConcurrentWrites(t *testing.T) {
	client, server := newStreamPair(t)

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = client.WriteMessage(&ClientChat{Message: "concurrent message body"})
		}()
	}

	for i := 0; i < writers; i++ {
		p, err := server.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, &ClientChat{Message: "concurrent message body"}, p)
	}
	wg.Wait()
}

func TestMessageStreamReadClosed(t *testing.T) {
	client, server := newStreamPair(t)
	require.NoError(t, client.Close())

	_, err := server.ReadMessage()
	var streamErr *StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "read", streamErr.Op)
	assert.True(t, streamErr.IsClosed())
}

func TestMessageStreamParseErrorIsNotStreamError(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	server := NewMessageStream(b)

	go func() {
		_ = EncodeFrame(a, []byte{0x09})
	}()

	_, err := server.ReadMessage()
	require.ErrorIs(t, err, ErrUnknownKind)

	var streamErr *StreamError
	assert.False(t, errors.As(err, &streamErr))
}

func TestMessageStreamWriteInvalidPacket(t *testing.T) {
	client, _ := newStreamPair(t)

	// Rejected before anything touches the connection, so this cannot block
	err := client.WriteMessage(&ClientAuthenticate{})
	assert.ErrorIs(t, err, ErrEmptyField)
}

func TestMessageStreamDeadline(t *testing.T) {
	_, server := newStreamPair(t)
	require.NoError(t, server.SetDeadline(time.Now().Add(20*time.Millisecond)))

	_, err := server.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}
