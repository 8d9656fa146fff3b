package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/google/uuid"
)

// ErrUsernameTaken is returned by Registry.Add when another session already
// holds the username
var ErrUsernameTaken = errors.New("username already taken")

// closeWriteTimeout bounds the End write to a client that stopped reading
const closeWriteTimeout = time.Second

// ClientHandle is an admitted session
type ClientHandle struct {
	ID          uuid.UUID
	Addr        net.Addr
	Stream      *protocol.MessageStream
	Handshake   handshake.Result
	Transport   string // "tcp" or "websocket"
	ConnectedAt time.Time

	mu       sync.Mutex // Protects messages
	messages []string
}

// NewClientHandle wraps an authenticated stream as a session
func NewClientHandle(stream *protocol.MessageStream, result handshake.Result, transport string) *ClientHandle {
	return &ClientHandle{
		ID:          uuid.New(),
		Addr:        stream.RemoteAddr(),
		Stream:      stream,
		Handshake:   result,
		Transport:   transport,
		ConnectedAt: time.Now(),
	}
}

// Username returns the authenticated username
func (c *ClientHandle) Username() string {
	return c.Handshake.Username
}

// Send writes a packet to the client and records it in the message log
func (c *ClientHandle) Send(p protocol.Packet) error {
	if err := c.Stream.WriteMessage(p); err != nil {
		return err
	}
	c.mu.Lock()
	c.messages = append(c.messages, p.String())
	c.mu.Unlock()
	return nil
}

// Messages returns a copy of the message log
func (c *ClientHandle) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// Registry is the ordered set of admitted sessions, shared by every accept
// loop of a server. No network I/O happens while its lock is held.
type Registry struct {
	mu       sync.Mutex
	sessions []*ClientHandle
	metrics  *Metrics
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// SetMetrics attaches metrics to the registry
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = metrics
}

// TakenUsernames snapshots the usernames currently held
func (r *Registry) TakenUsernames() handshake.UsernameSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := make(handshake.UsernameSet, len(r.sessions))
	for _, c := range r.sessions {
		taken[c.Username()] = struct{}{}
	}
	return taken
}

// Add appends a session. The username is checked again under the lock since
// the handshake ran against an earlier snapshot.
func (r *Registry) Add(c *ClientHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.Username() == c.Username() {
			return ErrUsernameTaken
		}
	}
	r.sessions = append(r.sessions, c)
	r.metrics.RecordActiveSessions(len(r.sessions))
	return nil
}

// Get returns the session holding username
func (r *Registry) Get(username string) (*ClientHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.sessions {
		if c.Username() == username {
			return c, true
		}
	}
	return nil, false
}

// Sessions returns the sessions in admission order
func (r *Registry) Sessions() []*ClientHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ClientHandle, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove takes the session holding username out of the registry. The
// caller owns the returned handle and is responsible for closing it.
func (r *Registry) Remove(username string) (*ClientHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.sessions {
		if c.Username() == username {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			r.metrics.RecordActiveSessions(len(r.sessions))
			return c, true
		}
	}
	return nil, false
}

// CloseAll sends End{reason} to every session, closes their streams and
// empties the registry. It returns how many sessions received the End.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.metrics.RecordActiveSessions(0)
	r.mu.Unlock()

	sent := 0
	for _, c := range sessions {
		_ = c.Stream.SetDeadline(time.Now().Add(closeWriteTimeout))
		if err := c.Send(&protocol.ServerEnd{Reason: reason}); err == nil {
			sent++
		} else {
			debugLog.Printf("Session %s (%s): End not delivered: %v", c.ID, c.Username(), err)
		}
		c.Stream.Close()
	}
	return sent
}
