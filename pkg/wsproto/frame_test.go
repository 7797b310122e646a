package wsproto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_SmallTextPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 100)
	buf := Encode(OpcodeText, payload)

	require.Len(t, buf, 2+100)
	assert.Equal(t, byte(0x81), buf[0], "FIN set, text opcode")
	assert.Equal(t, byte(100), buf[1], "length fits the 7-bit field")
	assert.Equal(t, payload, buf[2:])
}

func TestEncode_ExtendedLength16(t *testing.T) {
	payload := bytes.Repeat([]byte("b"), 200)
	buf := Encode(OpcodeText, payload)

	require.Len(t, buf, 4+200)
	assert.Equal(t, byte(0x81), buf[0])
	assert.Equal(t, byte(126), buf[1])
	assert.Equal(t, uint16(200), binary.BigEndian.Uint16(buf[2:4]))
	assert.Equal(t, payload, buf[4:])
}

func TestEncode_ExtendedLength64(t *testing.T) {
	payload := make([]byte, 70000)
	buf := Encode(OpcodeBinary, payload)

	require.Len(t, buf, 10+70000)
	assert.Equal(t, byte(0x82), buf[0])
	assert.Equal(t, byte(127), buf[1])
	// The full 64-bit field carries the length, high bits included.
	assert.Equal(t, uint64(70000), binary.BigEndian.Uint64(buf[2:10]))
}

func TestEncode_NeverMasked(t *testing.T) {
	buf := Encode(OpcodeText, []byte("reload"))
	assert.Zero(t, buf[1]&0x80, "server frames must not set the mask bit")
}

func TestDecodeFrame_Masked(t *testing.T) {
	// Masked payload bytes [5 6 7 8] under key [1 2 3 4] must decode
	// to the XOR of each byte with key[i%4].
	raw := []byte{0x81, 0x84, 1, 2, 3, 4, 5, 6, 7, 8}

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)

	assert.True(t, frame.Fin)
	assert.Equal(t, OpcodeText, frame.Opcode)
	assert.True(t, frame.Masked)
	assert.Equal(t, []byte{5 ^ 1, 6 ^ 2, 7 ^ 3, 8 ^ 4}, frame.Payload)
}

func TestDecodeFrame_Truncated(t *testing.T) {
	cases := map[string][]byte{
		"empty":             {},
		"single byte":       {0x81},
		"missing mask key":  {0x81, 0x84, 1, 2},
		"missing payload":   {0x81, 0x84, 1, 2, 3, 4, 5},
		"short ext16 field": {0x81, 126, 0},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame(raw)
			assert.ErrorIs(t, err, ErrTruncatedFrame)
		})
	}
}

func TestDecodeFrame_ExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 300)
	raw := Encode(OpcodeText, payload)

	frame, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.False(t, frame.Masked)
	assert.Equal(t, payload, frame.Payload)
}

func TestReadFrame_SequentialFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode(OpcodePing, []byte("hi")))
	stream.Write(Encode(OpcodeClose, nil))

	first, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, OpcodePing, first.Opcode)
	assert.Equal(t, []byte("hi"), first.Payload)

	second, err := ReadFrame(&stream)
	require.NoError(t, err)
	assert.Equal(t, OpcodeClose, second.Opcode)
	assert.Empty(t, second.Payload)
}

func TestOpcode_Classification(t *testing.T) {
	assert.True(t, OpcodeClose.IsControl())
	assert.True(t, OpcodePing.IsControl())
	assert.True(t, OpcodePong.IsControl())
	assert.False(t, OpcodeText.IsControl())
	assert.Equal(t, "CLOSE", OpcodeClose.String())
	assert.Equal(t, "TEXT", OpcodeText.String())
}
