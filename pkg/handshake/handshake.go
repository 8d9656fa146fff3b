// Package handshake authenticates a connection before it becomes a session.
//
// The exchange is exactly one request and one response:
//
//	client                      server
//	  Authenticate{username} -->
//	                         <-- Authenticated{} | End{reason}
//
// Nothing is retried. Any transport or parse error ends the handshake
// immediately and no partial result is returned.
package handshake

import (
	"time"

	"github.com/aeolun/tinychat/pkg/protocol"
)

// ReasonUsernameTaken is the End reason sent when a username is in use
const ReasonUsernameTaken = "Username already taken"

// State is a handshake state
type State int

const (
	StateAwaitingAuthenticate State = iota
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAwaitingAuthenticate:
		return "awaiting authenticate"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Stream is the message transport a handshake runs over.
// *protocol.MessageStream satisfies it.
type Stream interface {
	ReadMessage() (protocol.Packet, error)
	WriteMessage(p protocol.Packet) error
	SetDeadline(t time.Time) error
}

// Result is a completed, successful handshake
type Result struct {
	Username string
	State    State
}

// UsernameSet is a snapshot of the usernames held by live sessions
type UsernameSet map[string]struct{}

// NewUsernameSet builds a set from names
func NewUsernameSet(names ...string) UsernameSet {
	set := make(UsernameSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Contains reports whether name is taken
func (s UsernameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

type options struct {
	timeout time.Duration
}

// Option configures a handshake
type Option func(*options)

// WithTimeout bounds the whole exchange. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Client runs the client role: announce username and wait for the verdict
func Client(stream Stream, username string, opts ...Option) (*Result, error) {
	release, err := applyDeadline(stream, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := stream.WriteMessage(&protocol.ClientAuthenticate{Username: username}); err != nil {
		return nil, err
	}

	response, err := stream.ReadMessage()
	if err != nil {
		return nil, err
	}

	switch msg := response.(type) {
	case *protocol.ServerAuthenticated:
		return &Result{Username: username, State: StateAuthenticated}, nil
	case *protocol.ServerEnd:
		return nil, &AuthenticationError{Reason: msg.Reason}
	default:
		return nil, &UnexpectedMessageError{State: StateAwaitingAuthenticate, Packet: response}
	}
}

// Server runs the server role against a snapshot of taken usernames.
// A taken username is answered with End before the error is returned.
func Server(stream Stream, taken UsernameSet, opts ...Option) (*Result, error) {
	release, err := applyDeadline(stream, opts)
	if err != nil {
		return nil, err
	}
	defer release()

	request, err := stream.ReadMessage()
	if err != nil {
		return nil, err
	}

	auth, ok := request.(*protocol.ClientAuthenticate)
	if !ok {
		return nil, &UnexpectedMessageError{State: StateAwaitingAuthenticate, Packet: request}
	}

	if taken.Contains(auth.Username) {
		if err := stream.WriteMessage(&protocol.ServerEnd{Reason: ReasonUsernameTaken}); err != nil {
			return nil, err
		}
		return nil, &AuthenticationError{Reason: ReasonUsernameTaken}
	}

	if err := stream.WriteMessage(&protocol.ServerAuthenticated{}); err != nil {
		return nil, err
	}
	return &Result{Username: auth.Username, State: StateAuthenticated}, nil
}

// applyDeadline sets the handshake deadline and returns the func that lifts
// it again once the session takes over the stream
func applyDeadline(stream Stream, opts []Option) (func(), error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		return func() {}, nil
	}

	if err := stream.SetDeadline(time.Now().Add(o.timeout)); err != nil {
		return nil, &protocol.StreamError{Op: "deadline", Err: err}
	}
	return func() {
		_ = stream.SetDeadline(time.Time{})
	}, nil
}
