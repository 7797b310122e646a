// Package wsproto implements the WebSocket frame codec and handshake
// negotiation used by the live-reload server. It covers the RFC 6455
// subset the server needs: unfragmented frames, server-to-client text,
// close, and ping/pong. Extensions, subprotocols, and fragmented
// message reassembly are out of scope.
package wsproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Opcode is the 4-bit frame type tag from RFC 6455 Section 5.2.
type Opcode uint8

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control frame opcode.
func (o Opcode) IsControl() bool {
	switch o {
	case OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Codec errors.
var (
	ErrTruncatedFrame = errors.New("wsproto: truncated frame")
	ErrFrameTooLarge  = errors.New("wsproto: frame payload too large")
	ErrUnmaskedFrame  = errors.New("wsproto: client frame is not masked")
)

// MaxPayloadSize caps inbound payload allocation. Clients of a reload
// endpoint have no business sending large frames.
const MaxPayloadSize = 16 * 1024 * 1024

// Frame is a decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// Encode serializes a server-to-client frame. Server frames are never
// masked and always carry FIN; the header grows with the payload
// length exactly as RFC 6455 Section 5.2 lays it out, including the
// full 8-byte field for payloads of 64 KiB and above.
func Encode(opcode Opcode, payload []byte) []byte {
	n := len(payload)

	headerSize := 2
	switch {
	case n >= 1<<16:
		headerSize += 8
	case n >= 126:
		headerSize += 2
	}

	buf := make([]byte, headerSize+n)
	buf[0] = 0x80 | byte(opcode&0x0F)

	switch {
	case n >= 1<<16:
		buf[1] = 127
		binary.BigEndian.PutUint64(buf[2:10], uint64(n))
	case n >= 126:
		buf[1] = 126
		binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	default:
		buf[1] = byte(n)
	}

	copy(buf[headerSize:], payload)
	return buf
}

// EncodeText serializes a single text frame.
func EncodeText(payload []byte) []byte {
	return Encode(OpcodeText, payload)
}

// ReadFrame reads and decodes one frame from r. Masked payloads are
// unmasked in place before the frame is returned. A short read at any
// point yields ErrTruncatedFrame except for a clean EOF before the
// first header byte, which is passed through as io.EOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncatedFrame
	}

	frame := &Frame{
		Fin:    header[0]&0x80 != 0,
		Opcode: Opcode(header[0] & 0x0F),
		Masked: header[1]&0x80 != 0,
	}

	payloadLen := uint64(header[1] & 0x7F)
	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, ErrTruncatedFrame
		}
		payloadLen = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, ErrTruncatedFrame
		}
		payloadLen = binary.BigEndian.Uint64(ext[:])
	}

	if payloadLen > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	if frame.Masked {
		if _, err := io.ReadFull(r, frame.MaskKey[:]); err != nil {
			return nil, ErrTruncatedFrame
		}
	}

	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return nil, ErrTruncatedFrame
		}
		if frame.Masked {
			unmask(frame.Payload, frame.MaskKey)
		}
	}

	return frame, nil
}

// DecodeFrame decodes a single frame from a raw byte buffer.
func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < 2 {
		return nil, ErrTruncatedFrame
	}
	return ReadFrame(bytes.NewReader(buf))
}

func unmask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
