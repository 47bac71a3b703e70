// Package packet defines the tunnel datagram layout and Ethernet frame
// classification helpers.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen = 8
	DigestLen = 16
)

// Opcode identifies the datagram kind. It occupies the high nibble of byte 0.
type Opcode uint8

const (
	OpHello Opcode = iota
	OpMessage
	OpData
	OpDataCompressedL3
	OpDataCompressedL2
	opMax
)

// ReservedDNS marks a DATA_COMPRESSED_L3 datagram whose slot belongs to the
// DNS compression tables.
const ReservedDNS uint8 = 1

var (
	ErrShortHeader = errors.New("packet: short header")
	ErrBadOpcode   = errors.New("packet: unsupported opcode")
)

func (o Opcode) String() string {
	switch o {
	case OpHello:
		return "hello"
	case OpMessage:
		return "message"
	case OpData:
		return "data"
	case OpDataCompressedL3:
		return "data_l3"
	case OpDataCompressedL2:
		return "data_l2"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// IsData reports whether the opcode carries an Ethernet frame.
func (o Opcode) IsData() bool {
	return o == OpData || o == OpDataCompressedL3 || o == OpDataCompressedL2
}

// Header is the fixed 8-byte datagram prefix.
type Header struct {
	Opcode    Opcode
	Reserved  uint8
	SID       uint8
	Seq       uint16
	Timestamp uint32
}

// Put writes the header into b, which must hold at least HeaderLen bytes.
func (h Header) Put(b []byte) {
	_ = b[HeaderLen-1]
	b[0] = uint8(h.Opcode)<<4 | h.Reserved&0x0f
	b[1] = h.SID
	binary.BigEndian.PutUint16(b[2:4], h.Seq)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
}

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Opcode:    Opcode(b[0] >> 4),
		Reserved:  b[0] & 0x0f,
		SID:       b[1],
		Seq:       binary.BigEndian.Uint16(b[2:4]),
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Opcode >= opMax {
		return h, ErrBadOpcode
	}
	return h, nil
}
