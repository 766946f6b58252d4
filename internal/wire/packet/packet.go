// Package packet implements the on-wire framing of spec.md §4.2: a
// 7-byte header (type, connection_id, stream_id) followed by an opaque
// payload, all big-endian.
package packet

import (
	"encoding/binary"
	"errors"

	"dnieim/internal/domain"
)

// Type is the packet's first byte.
type Type uint8

const (
	HandshakeInit Type = 1
	HandshakeResp Type = 2
	Data          Type = 3
	Ack           Type = 4
)

func (t Type) String() string {
	switch t {
	case HandshakeInit:
		return "HANDSHAKE_INIT"
	case HandshakeResp:
		return "HANDSHAKE_RESP"
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

func (t Type) valid() bool {
	switch t {
	case HandshakeInit, HandshakeResp, Data, Ack:
		return true
	default:
		return false
	}
}

// HeaderSize is the fixed 7-byte prefix before the payload.
const HeaderSize = 7

// ErrMalformedPacket is returned by Decode when the input is shorter than
// HeaderSize or carries an unrecognized type byte.
var ErrMalformedPacket = errors.New("packet: malformed packet")

// Packet is one decoded UDP datagram of the peer-to-peer wire protocol.
type Packet struct {
	Type         Type
	ConnectionID domain.ConnectionID
	StreamID     domain.StreamID
	Payload      []byte
}

// Encode serializes p into a contiguous byte slice ready for sendto.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(p.ConnectionID))
	binary.BigEndian.PutUint16(buf[5:7], uint16(p.StreamID))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode parses a raw datagram into a Packet. The returned Payload aliases
// buf; callers that retain it past the datagram's buffer lifetime must
// copy it first.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrMalformedPacket
	}
	t := Type(buf[0])
	if !t.valid() {
		return Packet{}, ErrMalformedPacket
	}
	return Packet{
		Type:         t,
		ConnectionID: domain.ConnectionID(binary.BigEndian.Uint32(buf[1:5])),
		StreamID:     domain.StreamID(binary.BigEndian.Uint16(buf[5:7])),
		Payload:      buf[HeaderSize:],
	}, nil
}
