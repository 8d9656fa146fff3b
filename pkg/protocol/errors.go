package protocol

import "fmt"

// ParseErrorKind classifies why a message could not be decoded
type ParseErrorKind uint8

const (
	KindEmpty ParseErrorKind = iota
	KindUnexpectedEnd
	KindInvalidUTF8
	KindUnknownTag
	KindLengthPrefix
)

func (k ParseErrorKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindUnexpectedEnd:
		return "unexpected_end"
	case KindInvalidUTF8:
		return "invalid_utf8"
	case KindUnknownTag:
		return "unknown_kind"
	case KindLengthPrefix:
		return "length_prefix"
	default:
		return "unknown"
	}
}

// ParseError is returned by every decoder in this package. Which of the
// optional fields are set depends on Kind.
type ParseError struct {
	Kind ParseErrorKind

	Layer string // KindUnknownTag: "message", "client" or "server"
	Tag   uint8  // KindUnknownTag: the offending byte

	Field    string // KindInvalidUTF8, KindLengthPrefix
	Declared uint32 // KindLengthPrefix: length read from the prefix
	Have     int    // KindLengthPrefix: bytes actually left

	Err error // KindInvalidUTF8: underlying byte error
}

// Sentinels for errors.Is. A *ParseError matches any sentinel of the same Kind.
var (
	ErrMessageEmpty  = &ParseError{Kind: KindEmpty}
	ErrUnexpectedEnd = &ParseError{Kind: KindUnexpectedEnd}
	ErrStringParse   = &ParseError{Kind: KindInvalidUTF8}
	ErrUnknownKind   = &ParseError{Kind: KindUnknownTag}
	ErrLengthPrefix  = &ParseError{Kind: KindLengthPrefix}
)

func (e *ParseError) Error() string {
	switch e.Kind {
	case KindEmpty:
		return "message was empty"
	case KindUnexpectedEnd:
		return "unexpected end of message"
	case KindInvalidUTF8:
		return fmt.Sprintf("unable to parse string for field %s: %v", e.Field, e.Err)
	case KindUnknownTag:
		if e.Layer == "" {
			return fmt.Sprintf("unknown kind: %d", e.Tag)
		}
		return fmt.Sprintf("%s message had unknown kind: %d", e.Layer, e.Tag)
	case KindLengthPrefix:
		if e.Field == "" {
			return "malformed length prefix"
		}
		return fmt.Sprintf("malformed length prefix for field %s: declared %d bytes, %d available", e.Field, e.Declared, e.Have)
	default:
		return "malformed message"
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

func unknownKind(layer string, tag uint8) *ParseError {
	return &ParseError{Kind: KindUnknownTag, Layer: layer, Tag: tag}
}

// FieldError is returned when a packet cannot be encoded because one of its
// fields holds a value the decoder would reject
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
