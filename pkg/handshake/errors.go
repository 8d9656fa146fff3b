package handshake

import (
	"errors"
	"fmt"

	"github.com/aeolun/tinychat/pkg/protocol"
)

var (
	// ErrAuthenticationFailed matches every *AuthenticationError
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnexpectedMessage matches every *UnexpectedMessageError
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// AuthenticationError means the handshake completed on the wire but the
// session was refused, either because the username is taken (server role) or
// because the server answered with End (client role).
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// UnexpectedMessageError carries a well-formed packet that has no meaning in
// the current handshake state
type UnexpectedMessageError struct {
	State  State
	Packet protocol.Packet
}

func (e *UnexpectedMessageError) Error() string {
	name := protocol.TypeName(e.Packet.Origin(), e.Packet.Type())
	return fmt.Sprintf("unexpected %s message while %s: %s", name, e.State, e.Packet)
}

func (e *UnexpectedMessageError) Is(target error) bool {
	return target == ErrUnexpectedMessage
}
