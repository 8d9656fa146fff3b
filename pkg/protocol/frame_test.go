package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		wantErr bool
	}{
		{
			name:    "empty message",
			message: []byte{},
		},
		{
			name:    "authenticate message",
			message: []byte{OriginClient, TypeAuthenticate, 'a', 'l', 'i', 'c', 'e'},
		},
		{
			name:    "max message size (1MB)",
			message: make([]byte, MaxFrameSize),
		},
		{
			name:    "oversized message (should fail)",
			message: make([]byte, MaxFrameSize+1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := EncodeFrame(buf, tt.message)

			if tt.wantErr {
				assert.Equal(t, ErrFrameTooLarge, err)
				assert.Zero(t, buf.Len(), "nothing should be written for a rejected frame")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, frameHeaderSize+len(tt.message), buf.Len())

			decoded, err := DecodeFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.message, decoded)
		})
	}
}

func TestFrameLengthIsBigEndian(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeFrame(buf, []byte{0xAA, 0xBB, 0xCC}))
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC}, buf.Bytes())
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("empty buffer", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{}))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated length", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x00, 0x00}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x05, 0x01}))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("length above maximum", func(t *testing.T) {
		_, err := DecodeFrame(bytes.NewReader([]byte{0x00, 0x10, 0x00, 0x01}))
		assert.Equal(t, ErrFrameTooLarge, err)
	})
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	buf := new(bytes.Buffer)
	packets := []Packet{
		&ClientAuthenticate{Username: "alice"},
		&ClientChat{Message: "hello"},
		&ClientEnd{Reason: "bye"},
	}
	for _, p := range packets {
		require.NoError(t, writePacket(buf, p))
	}

	for _, want := range packets {
		got, err := readPacket(buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := readPacket(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameBytes(t *testing.T) {
	data, err := frameBytes(&ServerAuthenticated{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, OriginServer, TypeAuthenticated}, data)
}

func writePacket(w io.Writer, p Packet) error {
	message, err := EncodeMessage(p)
	if err != nil {
		return err
	}
	return EncodeFrame(w, message)
}

func readPacket(r io.Reader) (Packet, error) {
	message, err := DecodeFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(message)
}

func frameBytes(p Packet) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := writePacket(buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
