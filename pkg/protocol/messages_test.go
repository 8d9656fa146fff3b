package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{"authenticate", &ClientAuthenticate{Username: "Kitt3120"}},
		{"authenticate unicode", &ClientAuthenticate{Username: "søren"}},
		{"client chat", &ClientChat{Message: "⚡"}},
		{"client chat multiline", &ClientChat{Message: "line one\nline two"}},
		{"client end", &ClientEnd{Reason: "❌"}},
		{"authenticated", &ServerAuthenticated{}},
		{"server chat", &ServerChat{Username: "Kitt3120", Message: "⚡"}},
		{"server chat empty username", &ServerChat{Username: "", Message: "system notice"}},
		{"server end", &ServerEnd{Reason: "Username already taken"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMessage(tt.packet)
			require.NoError(t, err)

			decoded, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
			assert.Equal(t, tt.packet.Origin(), decoded.Origin())
			assert.Equal(t, tt.packet.Type(), decoded.Type())
		})
	}
}

func TestMessageWireLayout(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   []byte
	}{
		{
			name:   "authenticate",
			packet: &ClientAuthenticate{Username: "bob"},
			want:   []byte{0x00, 0x00, 'b', 'o', 'b'},
		},
		{
			name:   "client chat",
			packet: &ClientChat{Message: "hi"},
			want:   []byte{0x00, 0x01, 'h', 'i'},
		},
		{
			name:   "client end",
			packet: &ClientEnd{Reason: "x"},
			want:   []byte{0x00, 0x02, 'x'},
		},
		{
			name:   "authenticated",
			packet: &ServerAuthenticated{},
			want:   []byte{0x01, 0x00},
		},
		{
			name:   "server chat",
			packet: &ServerChat{Username: "al", Message: "yo"},
			want:   []byte{0x01, 0x01, 0x02, 0x00, 0x00, 0x00, 'a', 'l', 'y', 'o'},
		},
		{
			name:   "server end",
			packet: &ServerEnd{Reason: "no"},
			want:   []byte{0x01, 0x02, 'n', 'o'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMessage(tt.packet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	decoders := map[string]func([]byte) (Packet, error){
		"message": DecodeMessage,
		"client":  DecodeClientMessage,
		"server":  DecodeServerMessage,
	}

	for name, decode := range decoders {
		t.Run(name, func(t *testing.T) {
			_, err := decode([]byte{})
			assert.ErrorIs(t, err, ErrMessageEmpty)

			_, err = decode(nil)
			assert.ErrorIs(t, err, ErrMessageEmpty)
		})
	}

	t.Run("origin without type", func(t *testing.T) {
		_, err := DecodeMessage([]byte{OriginClient})
		assert.ErrorIs(t, err, ErrMessageEmpty)

		_, err = DecodeMessage([]byte{OriginServer})
		assert.ErrorIs(t, err, ErrMessageEmpty)
	})
}

func TestDecodeUnknownKind(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		decode func([]byte) (Packet, error)
		layer  string
		tag    uint8
	}{
		{"origin 2", []byte{0x02, 0x00, 'x'}, DecodeMessage, "message", 0x02},
		{"origin 0xFF", []byte{0xFF}, DecodeMessage, "message", 0xFF},
		{"client type 3", []byte{0x00, 0x03, 'x'}, DecodeMessage, "client", 0x03},
		{"server type 9", []byte{0x01, 0x09}, DecodeMessage, "server", 0x09},
		{"client decoder", []byte{0x7F}, DecodeClientMessage, "client", 0x7F},
		{"server decoder", []byte{0x03, 'x'}, DecodeServerMessage, "server", 0x03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.decode(tt.data)
			require.ErrorIs(t, err, ErrUnknownKind)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.tag, parseErr.Tag)
			assert.Equal(t, tt.layer, parseErr.Layer)
		})
	}
}

func TestDecodeUnexpectedEnd(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"authenticate without username", []byte{0x00, 0x00}},
		{"client chat without message", []byte{0x00, 0x01}},
		{"client end without reason", []byte{0x00, 0x02}},
		{"server chat without length", []byte{0x01, 0x01, 0x01, 0x00}},
		{"server chat without message", []byte{0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 'a'}},
		{"server end without reason", []byte{0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			assert.ErrorIs(t, err, ErrUnexpectedEnd)
		})
	}
}

func TestDecodeAuthenticatedIgnoresTrailingBytes(t *testing.T) {
	p, err := DecodeMessage([]byte{0x01, 0x00, 0xDE, 0xAD})
	require.NoError(t, err)
	assert.Equal(t, &ServerAuthenticated{}, p)
}

func TestDecodeLengthPrefix(t *testing.T) {
	// Declares a 200 byte username but only 3 bytes follow
	data := []byte{0x01, 0x01, 0xC8, 0x00, 0x00, 0x00, 'a', 'b', 'c'}

	_, err := DecodeMessage(data)
	require.ErrorIs(t, err, ErrLengthPrefix)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "username", parseErr.Field)
	assert.Equal(t, uint32(200), parseErr.Declared)
	assert.Equal(t, 3, parseErr.Have)
}

func TestDecodeLengthPrefixHugeValue(t *testing.T) {
	data := []byte{0x01, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 'a'}
	_, err := DecodeMessage(data)
	assert.ErrorIs(t, err, ErrLengthPrefix)
}

func TestDecodeInvalidUTF8(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"authenticate", []byte{0x00, 0x00, 0xFF, 0xFE}, "username"},
		{"client chat", []byte{0x00, 0x01, 'o', 'k', 0xC3}, "message"},
		{"client end", []byte{0x00, 0x02, 0x80}, "reason"},
		{"server chat username", []byte{0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0xFF, 'm'}, "username"},
		{"server chat message", []byte{0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 'u', 0xFF}, "message"},
		{"server end", []byte{0x01, 0x02, 0xED, 0xA0, 0x80}, "reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			require.ErrorIs(t, err, ErrStringParse)
			assert.ErrorIs(t, err, ErrInvalidUTF8)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.field, parseErr.Field)
			assert.NotNil(t, parseErr.Err)
		})
	}
}

func TestEncodeRejectsUndecodableFields(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   error
	}{
		{"empty username", &ClientAuthenticate{Username: ""}, ErrEmptyField},
		{"empty chat", &ClientChat{Message: ""}, ErrEmptyField},
		{"empty client reason", &ClientEnd{}, ErrEmptyField},
		{"empty server chat message", &ServerChat{Username: "a"}, ErrEmptyField},
		{"empty server reason", &ServerEnd{}, ErrEmptyField},
		{"invalid utf8 username", &ClientAuthenticate{Username: "\xff"}, ErrInvalidUTF8},
		{"invalid utf8 server chat username", &ServerChat{Username: "\xc3", Message: "m"}, ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeMessage(tt.packet)
			require.ErrorIs(t, err, tt.want)

			var fieldErr *FieldError
			assert.True(t, errors.As(err, &fieldErr))
		})
	}
}

func TestEncodeMessageTooLarge(t *testing.T) {
	p := &ClientChat{Message: string(bytes.Repeat([]byte("a"), MaxFrameSize))}
	_, err := EncodeMessage(p)
	assert.Equal(t, ErrFrameTooLarge, err)
}

func TestDecodeDoesNotMutateOnError(t *testing.T) {
	p := &ServerChat{Username: "keep", Message: "me"}
	err := p.Decode([]byte{0x05, 0x00, 0x00, 0x00, 'a'})
	require.Error(t, err)
	assert.Equal(t, &ServerChat{Username: "keep", Message: "me"}, p)
}

func TestPacketString(t *testing.T) {
	assert.Equal(t, "Client(Authenticate(alice))", (&ClientAuthenticate{Username: "alice"}).String())
	assert.Equal(t, "Client(Chat(hi))", (&ClientChat{Message: "hi"}).String())
	assert.Equal(t, "Client(End(bye))", (&ClientEnd{Reason: "bye"}).String())
	assert.Equal(t, "Server(Authenticated())", (&ServerAuthenticated{}).String())
	assert.Equal(t, "Server(Chat(bob, hey))", (&ServerChat{Username: "bob", Message: "hey"}).String())
	assert.Equal(t, "Server(End(done))", (&ServerEnd{Reason: "done"}).String())
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "AUTHENTICATE", TypeName(OriginClient, TypeAuthenticate))
	assert.Equal(t, "SERVER_END", TypeName(OriginServer, TypeServerEnd))
	assert.Equal(t, "UNKNOWN", TypeName(OriginClient, 0x42))
	assert.Equal(t, "UNKNOWN", TypeName(0x05, TypeAuthenticate))
}

func TestParseErrorMessages(t *testing.T) {
	assert.Equal(t, "message was empty", ErrMessageEmpty.Error())
	assert.Equal(t, "unexpected end of message", ErrUnexpectedEnd.Error())
	assert.Equal(t, "client message had unknown kind: 7", unknownKind("client", 7).Error())
	assert.Contains(t, (&ParseError{Kind: KindLengthPrefix, Field: "username", Declared: 9, Have: 2}).Error(), "declared 9 bytes, 2 available")
	assert.Equal(t, "unknown_kind", KindUnknownTag.String())
}
