package protocol

import (
	"errors"
	"io"
)

const (
	// MaxFrameSize is the maximum allowed frame size (1 MB)
	MaxFrameSize = 1024 * 1024

	// frameHeaderSize is the size of the length prefix
	frameHeaderSize = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (1 MB)")
)

// EncodeFrame writes one framed message to the writer
// Format: [Length (4 bytes, big-endian)][Message (N bytes)]
func EncodeFrame(w io.Writer, message []byte) error {
	if len(message) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	// Length and body go out in a single Write so a frame is never split
	// across writers sharing the connection.
	buf := make([]byte, frameHeaderSize+len(message))
	putUint32BE(buf, uint32(len(message)))
	copy(buf[frameHeaderSize:], message)

	_, err := w.Write(buf)
	return err
}

// DecodeFrame reads one framed message from the reader
func DecodeFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := uint32BE(header[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	message := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, message); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return message, nil
}
