package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// StreamError is a transport-level failure while reading or writing a
// message. Malformed message bytes are reported as *ParseError instead.
type StreamError struct {
	Op  string // "read", "write" or "deadline"
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s message: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsClosed reports whether the peer closed the stream cleanly between messages
func (e *StreamError) IsClosed() bool {
	return errors.Is(e.Err, io.EOF) || errors.Is(e.Err, net.ErrClosed)
}

// MessageStream carries framed messages over a connection.
//
// Writes are serialized so frames from concurrent writers never interleave
// on the wire. Reads are not synchronized; a stream has at most one reader.
type MessageStream struct {
	conn net.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewMessageStream wraps a connection
func NewMessageStream(conn net.Conn) *MessageStream {
	return &MessageStream{
		conn: conn,
	}
}

// ReadMessage reads and decodes the next message
func (s *MessageStream) ReadMessage() (Packet, error) {
	message, err := DecodeFrame(s.conn)
	if err != nil {
		return nil, &StreamError{Op: "read", Err: err}
	}
	return DecodeMessage(message)
}

// WriteMessage encodes and sends one message
func (s *MessageStream) WriteMessage(p Packet) error {
	message, err := EncodeMessage(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := EncodeFrame(s.conn, message); err != nil {
		return &StreamError{Op: "write", Err: err}
	}
	return nil
}

// SetDeadline sets the read and write deadline of the underlying connection
func (s *MessageStream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// RemoteAddr returns the remote network address
func (s *MessageStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close closes the underlying connection
func (s *MessageStream) Close() error {
	return s.conn.Close()
}
