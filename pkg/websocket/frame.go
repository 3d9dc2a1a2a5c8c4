package websocket

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// Opcode denotes the type of a WebSocket frame, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2 and
// https://datatracker.ietf.org/doc/html/rfc6455#section-11.8.
type Opcode int

const (
	OpcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	// 3-7 are reserved for further non-control frames.
	_
	_
	_
	_
	_
	OpcodeClose
	OpcodePing
	OpcodePong
	// 11-15 are reserved for further control frames.
)

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return strconv.Itoa(int(o))
	}
}

// IsControl reports whether the opcode denotes a control frame.
func (o Opcode) IsControl() bool {
	return o >= OpcodeClose
}

// Frame parsing/construction constants, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
const (
	bit0     = 0x80
	bit1     = 0x40
	bit2     = 0x20
	bit3     = 0x10
	bits1to7 = 0x7f
	bits4to7 = 0x0f

	len7bits  = 125 // Payload length of up to 125 bytes.
	len16bits = 126 // Extended payload length of up to 64 KiB.
	len64bits = 127 // Extended payload length of up to 16 EiB.
)

// maxControlPayload is the maximum length of a control frame payload,
// as defined in https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.
const (
	maxControlPayload = 125
)

// FrameHeader is the 2-14 byte header of one WebSocket frame, as
// defined in https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
type FrameHeader struct {
	// Bit 0: Indicates that this is the final fragment in a message.
	// The first fragment MAY also be the final fragment.
	Fin bool
	// Bits 1-3: Reserved. RSV1 marks a compressed message when the
	// permessage-deflate extension has been negotiated.
	RSV1 bool
	RSV2 bool
	RSV3 bool
	// Bits 4-7: Defines the interpretation of the "Payload data".
	Opcode Opcode
	// Bit 8: Defines whether the "Payload data" is masked. If set, a
	// masking key is present, and is used to unmask the payload as per
	// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3. All
	// frames sent from client to server have this bit set.
	Masked bool
	// The length of the "Payload data", in bytes. The minimal number
	// of bytes is used on the wire to encode the length.
	PayloadLen uint64
	// The 32-bit masking key, present on the wire iff Masked is set.
	MaskingKey uint32

	// Rotation state of the masking key across partial payload
	// chunks. Not part of the wire format.
	maskOffset int
}

// Clear resets the header to all zeroes.
func (h *FrameHeader) Clear() {
	*h = FrameHeader{}
}

// Encode emits the header in wire format, in big-endian byte order.
func (h *FrameHeader) Encode(out *bytes.Buffer) {
	var bytes16 [16]byte
	b0 := byte(h.Opcode) & bits4to7
	if h.Fin {
		b0 |= bit0
	}
	if h.RSV1 {
		b0 |= bit1
	}
	if h.RSV2 {
		b0 |= bit2
	}
	if h.RSV3 {
		b0 |= bit3
	}
	bytes16[0] = b0

	var masked byte
	if h.Masked {
		masked = bit0
	}

	ntotal := 2
	switch {
	case h.PayloadLen <= len7bits:
		bytes16[1] = masked | byte(h.PayloadLen)
	case h.PayloadLen <= 65535:
		bytes16[1] = masked | len16bits
		binary.BigEndian.PutUint16(bytes16[2:], uint16(h.PayloadLen))
		ntotal += 2
	default:
		bytes16[1] = masked | len64bits
		binary.BigEndian.PutUint64(bytes16[2:], h.PayloadLen)
		ntotal += 8
	}

	if h.Masked {
		binary.BigEndian.PutUint32(bytes16[ntotal:], h.MaskingKey)
		ntotal += 4
	}

	out.Write(bytes16[:ntotal])
}

// MaskPayload applies the masking key to data in place, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3. Masking
// is an involution: applying it twice restores the original bytes.
// The key rotation survives across calls, so a frame payload may be
// unmasked in arbitrary chunks as it arrives.
func (h *FrameHeader) MaskPayload(data []byte) {
	if !h.Masked || h.MaskingKey == 0 {
		return
	}

	var key [4]byte
	binary.BigEndian.PutUint32(key[:], h.MaskingKey)

	off := h.maskOffset
	for i := range data {
		data[i] ^= key[(off+i)&3]
	}
	h.maskOffset = (off + len(data)) & 3
}
