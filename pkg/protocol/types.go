package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"unicode/utf8"
)

// lengthPrefixSize is the width of the username length inside SERVER_CHAT.
// It is fixed at 4 bytes regardless of the host word size.
const lengthPrefixSize = 4

var (
	ErrInvalidUTF8 = errors.New("invalid UTF-8 string")
	ErrEmptyField  = errors.New("field must not be empty")
)

func putUint32BE(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

func uint32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// WriteUint32LE writes a 32-bit unsigned integer in little-endian
func WriteUint32LE(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// WriteRemainder writes a string that runs to the end of the message.
// Nothing may be written after it: the decoder treats every remaining
// byte as part of the string.
func WriteRemainder(w io.Writer, field, s string) error {
	if s == "" {
		return &FieldError{Field: field, Err: ErrEmptyField}
	}
	if !utf8.ValidString(s) {
		return &FieldError{Field: field, Err: ErrInvalidUTF8}
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteLengthPrefixed writes a string preceded by its byte length as a uint32 (LE)
func WriteLengthPrefixed(w io.Writer, field, s string) error {
	if !utf8.ValidString(s) {
		return &FieldError{Field: field, Err: ErrInvalidUTF8}
	}
	if len(s) > MaxFrameSize {
		return &FieldError{Field: field, Err: ErrFrameTooLarge}
	}
	if err := WriteUint32LE(w, uint32(len(s))); err != nil {
		return err
	}
	if len(s) > 0 {
		_, err := io.WriteString(w, s)
		return err
	}
	return nil
}

// ReadRemainder decodes all remaining bytes as a UTF-8 string. At least one
// byte is required.
func ReadRemainder(payload []byte, field string) (string, error) {
	if len(payload) == 0 {
		return "", ErrUnexpectedEnd
	}
	return decodeString(payload, field)
}

// ReadLengthPrefixed decodes a uint32 (LE) length followed by that many bytes
// of UTF-8. It returns the string and the bytes that follow it.
func ReadLengthPrefixed(payload []byte, field string) (string, []byte, error) {
	if len(payload) < lengthPrefixSize {
		return "", nil, ErrUnexpectedEnd
	}

	length := binary.LittleEndian.Uint32(payload[:lengthPrefixSize])
	rest := payload[lengthPrefixSize:]
	if uint64(length) > uint64(len(rest)) {
		return "", nil, &ParseError{
			Kind:     KindLengthPrefix,
			Field:    field,
			Declared: length,
			Have:     len(rest),
		}
	}

	s, err := decodeString(rest[:length], field)
	if err != nil {
		return "", nil, err
	}
	return s, rest[length:], nil
}

func decodeString(b []byte, field string) (string, error) {
	if !utf8.Valid(b) {
		return "", &ParseError{Kind: KindInvalidUTF8, Field: field, Err: invalidUTF8At(b)}
	}
	return string(b), nil
}

// invalidUTF8At reports the offset of the first invalid sequence
func invalidUTF8At(b []byte) error {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return &utf8Error{offset: i}
		}
		i += size
	}
	return ErrInvalidUTF8
}

type utf8Error struct {
	offset int
}

func (e *utf8Error) Error() string {
	return "invalid utf-8 sequence at byte " + strconv.Itoa(e.offset)
}

func (e *utf8Error) Unwrap() error {
	return ErrInvalidUTF8
}
