// Package relaywire implements the client-relay binary protocol of
// spec.md §4.4: a distinct, simpler framing from the peer-to-peer packet
// protocol in internal/wire/packet, since the relay is an untrusted dumb
// forwarder and never needs to parse peer-to-peer payloads.
package relaywire

import (
	"encoding/binary"
	"errors"

	"dnieim/internal/domain"
)

// Opcode is the first byte of every relay-protocol message.
type Opcode uint8

const (
	OpRegister    Opcode = 0x01
	OpRelay       Opcode = 0x02
	OpList        Opcode = 0x03
	OpRegisterAck Opcode = 0x81
	OpListResp    Opcode = 0x83
)

// FingerprintLen is the wire width of a fingerprint: 16 ASCII hex bytes.
const FingerprintLen = 16

var (
	// ErrMalformed is returned by any Decode* function on a truncated or
	// internally inconsistent message.
	ErrMalformed = errors.New("relaywire: malformed message")
)

func fingerprintBytes(fp domain.Fingerprint) ([FingerprintLen]byte, error) {
	var out [FingerprintLen]byte
	if len(fp) != FingerprintLen {
		return out, ErrMalformed
	}
	copy(out[:], fp)
	return out, nil
}

// Register is the client->relay REGISTER message: advertise a fingerprint,
// static public key and display name.
type Register struct {
	Fingerprint domain.Fingerprint
	StaticPub   domain.X25519Public
	DisplayName string
}

func EncodeRegister(r Register) ([]byte, error) {
	fpBytes, err := fingerprintBytes(r.Fingerprint)
	if err != nil {
		return nil, err
	}
	if len(r.DisplayName) > 255 {
		return nil, ErrMalformed
	}
	buf := make([]byte, 0, 1+16+32+1+len(r.DisplayName))
	buf = append(buf, byte(OpRegister))
	buf = append(buf, fpBytes[:]...)
	buf = append(buf, r.StaticPub.Slice()...)
	buf = append(buf, byte(len(r.DisplayName)))
	buf = append(buf, []byte(r.DisplayName)...)
	return buf, nil
}

func DecodeRegister(buf []byte) (Register, error) {
	if len(buf) < 1+16+32+1 || Opcode(buf[0]) != OpRegister {
		return Register{}, ErrMalformed
	}
	nameLen := int(buf[1+16+32])
	want := 1 + 16 + 32 + 1 + nameLen
	if len(buf) != want {
		return Register{}, ErrMalformed
	}
	fp := domain.Fingerprint(buf[1 : 1+16])
	pub := domain.MustX25519Public(buf[1+16 : 1+16+32])
	name := string(buf[1+16+32+1 : want])
	return Register{Fingerprint: fp, StaticPub: pub, DisplayName: name}, nil
}

// RegisterAck is the relay->client REGISTER_ACK acknowledging a Register.
type RegisterAck struct {
	Fingerprint domain.Fingerprint
}

func EncodeRegisterAck(a RegisterAck) ([]byte, error) {
	fpBytes, err := fingerprintBytes(a.Fingerprint)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+16)
	buf = append(buf, byte(OpRegisterAck))
	buf = append(buf, fpBytes[:]...)
	return buf, nil
}

func DecodeRegisterAck(buf []byte) (RegisterAck, error) {
	if len(buf) != 1+16 || Opcode(buf[0]) != OpRegisterAck {
		return RegisterAck{}, ErrMalformed
	}
	return RegisterAck{Fingerprint: domain.Fingerprint(buf[1:17])}, nil
}

// Relay is the RELAY message: a client sends it to the relay, which
// forwards it unchanged to dest_fingerprint's registered endpoint.
// opaque_payload is a full peer-to-peer packet; the relay never parses it.
type Relay struct {
	DestFingerprint domain.Fingerprint
	OpaquePayload   []byte
}

func EncodeRelay(r Relay) ([]byte, error) {
	fpBytes, err := fingerprintBytes(r.DestFingerprint)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+16+len(r.OpaquePayload))
	buf = append(buf, byte(OpRelay))
	buf = append(buf, fpBytes[:]...)
	buf = append(buf, r.OpaquePayload...)
	return buf, nil
}

func DecodeRelay(buf []byte) (Relay, error) {
	if len(buf) < 1+16 || Opcode(buf[0]) != OpRelay {
		return Relay{}, ErrMalformed
	}
	return Relay{
		DestFingerprint: domain.Fingerprint(buf[1:17]),
		OpaquePayload:   buf[17:],
	}, nil
}

// EncodeList encodes the fixed one-byte client->relay LIST request.
func EncodeList() []byte { return []byte{byte(OpList)} }

func DecodeList(buf []byte) error {
	if len(buf) != 1 || Opcode(buf[0]) != OpList {
		return ErrMalformed
	}
	return nil
}

// ListEntry is one directory entry within a ListResp.
type ListEntry struct {
	Fingerprint domain.Fingerprint
	StaticPub   domain.X25519Public
	DisplayName string
}

// ListResp is the relay->client LIST_RESP directory snapshot.
type ListResp struct {
	Entries []ListEntry
}

func EncodeListResp(r ListResp) ([]byte, error) {
	if len(r.Entries) > 0xFFFF {
		return nil, ErrMalformed
	}
	buf := make([]byte, 3, 3+len(r.Entries)*(16+32+1))
	buf[0] = byte(OpListResp)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(r.Entries)))
	for _, e := range r.Entries {
		fpBytes, err := fingerprintBytes(e.Fingerprint)
		if err != nil {
			return nil, err
		}
		if len(e.DisplayName) > 255 {
			return nil, ErrMalformed
		}
		buf = append(buf, fpBytes[:]...)
		buf = append(buf, e.StaticPub.Slice()...)
		buf = append(buf, byte(len(e.DisplayName)))
		buf = append(buf, []byte(e.DisplayName)...)
	}
	return buf, nil
}

func DecodeListResp(buf []byte) (ListResp, error) {
	if len(buf) < 3 || Opcode(buf[0]) != OpListResp {
		return ListResp{}, ErrMalformed
	}
	count := int(binary.BigEndian.Uint16(buf[1:3]))
	entries := make([]ListEntry, 0, count)
	off := 3
	for i := 0; i < count; i++ {
		if off+16+32+1 > len(buf) {
			return ListResp{}, ErrMalformed
		}
		fp := domain.Fingerprint(buf[off : off+16])
		pub := domain.MustX25519Public(buf[off+16 : off+16+32])
		nameLen := int(buf[off+16+32])
		off += 16 + 32 + 1
		if off+nameLen > len(buf) {
			return ListResp{}, ErrMalformed
		}
		name := string(buf[off : off+nameLen])
		off += nameLen
		entries = append(entries, ListEntry{Fingerprint: fp, StaticPub: pub, DisplayName: name})
	}
	if off != len(buf) {
		return ListResp{}, ErrMalformed
	}
	return ListResp{Entries: entries}, nil
}

// PeekOpcode reads the first byte of a relay-protocol message without
// fully decoding it, for dispatch in a receive loop.
func PeekOpcode(buf []byte) (Opcode, error) {
	if len(buf) < 1 {
		return 0, ErrMalformed
	}
	return Opcode(buf[0]), nil
}
