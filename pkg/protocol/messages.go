package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// Origin tags (first byte of every message)
const (
	OriginClient = 0x00
	OriginServer = 0x01
)

// Message type constants (Client → Server)
const (
	TypeAuthenticate = 0x00
	TypeClientChat   = 0x01
	TypeClientEnd    = 0x02
)

// Message type constants (Server → Client)
const (
	TypeAuthenticated = 0x00
	TypeServerChat    = 0x01
	TypeServerEnd     = 0x02
)

// Packet is one typed payload together with the origin and type tags it is
// sent under. Tags are densely assigned and must not be reused for a
// different payload.
type Packet interface {
	Origin() uint8
	Type() uint8
	EncodeTo(w io.Writer) error
	Decode(payload []byte) error
	String() string
}

// EncodeMessage encodes a packet as [Origin][Type][Payload]
func EncodeMessage(p Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := WriteUint8(buf, p.Origin()); err != nil {
		return nil, err
	}
	if err := WriteUint8(buf, p.Type()); err != nil {
		return nil, err
	}
	if err := p.EncodeTo(buf); err != nil {
		return nil, err
	}
	if buf.Len() > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return buf.Bytes(), nil
}

// DecodeMessage decodes a complete message, dispatching on the origin tag
func DecodeMessage(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}

	switch data[0] {
	case OriginClient:
		return DecodeClientMessage(data[1:])
	case OriginServer:
		return DecodeServerMessage(data[1:])
	default:
		return nil, unknownKind("message", data[0])
	}
}

// DecodeClientMessage decodes [Type][Payload] of a client-originated message
func DecodeClientMessage(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}

	var p Packet
	switch data[0] {
	case TypeAuthenticate:
		p = &ClientAuthenticate{}
	case TypeClientChat:
		p = &ClientChat{}
	case TypeClientEnd:
		p = &ClientEnd{}
	default:
		return nil, unknownKind("client", data[0])
	}

	if err := p.Decode(data[1:]); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeServerMessage decodes [Type][Payload] of a server-originated message
func DecodeServerMessage(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrMessageEmpty
	}

	var p Packet
	switch data[0] {
	case TypeAuthenticated:
		p = &ServerAuthenticated{}
	case TypeServerChat:
		p = &ServerChat{}
	case TypeServerEnd:
		p = &ServerEnd{}
	default:
		return nil, unknownKind("server", data[0])
	}

	if err := p.Decode(data[1:]); err != nil {
		return nil, err
	}
	return p, nil
}

// TypeName returns a stable upper-case name for an origin/type pair
func TypeName(origin, msgType uint8) string {
	switch origin {
	case OriginClient:
		switch msgType {
		case TypeAuthenticate:
			return "AUTHENTICATE"
		case TypeClientChat:
			return "CLIENT_CHAT"
		case TypeClientEnd:
			return "CLIENT_END"
		}
	case OriginServer:
		switch msgType {
		case TypeAuthenticated:
			return "AUTHENTICATED"
		case TypeServerChat:
			return "SERVER_CHAT"
		case TypeServerEnd:
			return "SERVER_END"
		}
	}
	return "UNKNOWN"
}

// ClientAuthenticate (client 0x00) - Request a session under a username
type ClientAuthenticate struct {
	Username string
}

func (m *ClientAuthenticate) Origin() uint8 { return OriginClient }
func (m *ClientAuthenticate) Type() uint8   { return TypeAuthenticate }

func (m *ClientAuthenticate) EncodeTo(w io.Writer) error {
	return WriteRemainder(w, "username", m.Username)
}

func (m *ClientAuthenticate) Decode(payload []byte) error {
	username, err := ReadRemainder(payload, "username")
	if err != nil {
		return err
	}
	m.Username = username
	return nil
}

func (m *ClientAuthenticate) String() string {
	return fmt.Sprintf("Client(Authenticate(%s))", m.Username)
}

// ClientChat (client 0x01) - Chat line typed by the user
type ClientChat struct {
	Message string
}

func (m *ClientChat) Origin() uint8 { return OriginClient }
func (m *ClientChat) Type() uint8   { return TypeClientChat }

func (m *ClientChat) EncodeTo(w io.Writer) error {
	return WriteRemainder(w, "message", m.Message)
}

func (m *ClientChat) Decode(payload []byte) error {
	message, err := ReadRemainder(payload, "message")
	if err != nil {
		return err
	}
	m.Message = message
	return nil
}

func (m *ClientChat) String() string {
	return fmt.Sprintf("Client(Chat(%s))", m.Message)
}

// ClientEnd (client 0x02) - Client is leaving
type ClientEnd struct {
	Reason string
}

func (m *ClientEnd) Origin() uint8 { return OriginClient }
func (m *ClientEnd) Type() uint8   { return TypeClientEnd }

func (m *ClientEnd) EncodeTo(w io.Writer) error {
	return WriteRemainder(w, "reason", m.Reason)
}

func (m *ClientEnd) Decode(payload []byte) error {
	reason, err := ReadRemainder(payload, "reason")
	if err != nil {
		return err
	}
	m.Reason = reason
	return nil
}

func (m *ClientEnd) String() string {
	return fmt.Sprintf("Client(End(%s))", m.Reason)
}

// ServerAuthenticated (server 0x00) - Handshake accepted. No payload; any
// trailing bytes are ignored.
type ServerAuthenticated struct{}

func (m *ServerAuthenticated) Origin() uint8 { return OriginServer }
func (m *ServerAuthenticated) Type() uint8   { return TypeAuthenticated }

func (m *ServerAuthenticated) EncodeTo(w io.Writer) error {
	return nil
}

func (m *ServerAuthenticated) Decode(payload []byte) error {
	return nil
}

func (m *ServerAuthenticated) String() string {
	return "Server(Authenticated())"
}

// ServerChat (server 0x01) - Chat line attributed to a user
// Format: [UsernameLength (uint32 LE)][Username (N bytes)][Message (remainder)]
type ServerChat struct {
	Username string
	Message  string
}

func (m *ServerChat) Origin() uint8 { return OriginServer }
func (m *ServerChat) Type() uint8   { return TypeServerChat }

func (m *ServerChat) EncodeTo(w io.Writer) error {
	if err := WriteLengthPrefixed(w, "username", m.Username); err != nil {
		return err
	}
	return WriteRemainder(w, "message", m.Message)
}

func (m *ServerChat) Decode(payload []byte) error {
	username, rest, err := ReadLengthPrefixed(payload, "username")
	if err != nil {
		return err
	}
	message, err := ReadRemainder(rest, "message")
	if err != nil {
		return err
	}

	m.Username = username
	m.Message = message
	return nil
}

func (m *ServerChat) String() string {
	return fmt.Sprintf("Server(Chat(%s, %s))", m.Username, m.Message)
}

// ServerEnd (server 0x02) - Server is closing the session
type ServerEnd struct {
	Reason string
}

func (m *ServerEnd) Origin() uint8 { return OriginServer }
func (m *ServerEnd) Type() uint8   { return TypeServerEnd }

func (m *ServerEnd) EncodeTo(w io.Writer) error {
	return WriteRemainder(w, "reason", m.Reason)
}

func (m *ServerEnd) Decode(payload []byte) error {
	reason, err := ReadRemainder(payload, "reason")
	if err != nil {
		return err
	}
	m.Reason = reason
	return nil
}

func (m *ServerEnd) String() string {
	return fmt.Sprintf("Server(End(%s))", m.Reason)
}
