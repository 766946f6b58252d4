package relaywire

import (
	"bytes"
	"errors"
	"testing"

	"dnieim/internal/domain"
)

func TestRegister_RoundTrip(t *testing.T) {
	want := Register{
		Fingerprint: domain.Fingerprint("0123456789abcdef"),
		StaticPub:   domain.X25519Public{1, 2, 3},
		DisplayName: "alice",
	}
	buf, err := EncodeRegister(want)
	if err != nil {
		t.Fatalf("EncodeRegister: %v", err)
	}
	got, err := DecodeRegister(buf)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestRegisterAck_RoundTrip(t *testing.T) {
	want := RegisterAck{Fingerprint: domain.Fingerprint("fedcba9876543210")}
	buf, err := EncodeRegisterAck(want)
	if err != nil {
		t.Fatalf("EncodeRegisterAck: %v", err)
	}
	got, err := DecodeRegisterAck(buf)
	if err != nil {
		t.Fatalf("DecodeRegisterAck: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestRelay_RoundTripOpaquePayload(t *testing.T) {
	want := Relay{
		DestFingerprint: domain.Fingerprint("aaaaaaaaaaaaaaaa"),
		OpaquePayload:   []byte{0x01, 0xDE, 0xAD, 0xBE, 0xEF},
	}
	buf, err := EncodeRelay(want)
	if err != nil {
		t.Fatalf("EncodeRelay: %v", err)
	}
	got, err := DecodeRelay(buf)
	if err != nil {
		t.Fatalf("DecodeRelay: %v", err)
	}
	if got.DestFingerprint != want.DestFingerprint || !bytes.Equal(got.OpaquePayload, want.OpaquePayload) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestListResp_RoundTripMultipleEntries(t *testing.T) {
	want := ListResp{Entries: []ListEntry{
		{Fingerprint: domain.Fingerprint("1111111111111111"), StaticPub: domain.X25519Public{9}, DisplayName: "bob"},
		{Fingerprint: domain.Fingerprint("2222222222222222"), StaticPub: domain.X25519Public{8}, DisplayName: ""},
	}}
	buf, err := EncodeListResp(want)
	if err != nil {
		t.Fatalf("EncodeListResp: %v", err)
	}
	got, err := DecodeListResp(buf)
	if err != nil {
		t.Fatalf("DecodeListResp: %v", err)
	}
	if len(got.Entries) != len(want.Entries) {
		t.Fatalf("got %d entries want %d", len(got.Entries), len(want.Entries))
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, got.Entries[i], want.Entries[i])
		}
	}
}

func TestDecodeListResp_TruncatedRejected(t *testing.T) {
	buf, err := EncodeListResp(ListResp{Entries: []ListEntry{
		{Fingerprint: domain.Fingerprint("3333333333333333"), StaticPub: domain.X25519Public{1}, DisplayName: "cut"},
	}})
	if err != nil {
		t.Fatalf("EncodeListResp: %v", err)
	}
	if _, err := DecodeListResp(buf[:len(buf)-2]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeRegister_WrongOpcodeRejected(t *testing.T) {
	buf, err := EncodeRegisterAck(RegisterAck{Fingerprint: domain.Fingerprint("0000000000000000")})
	if err != nil {
		t.Fatalf("EncodeRegisterAck: %v", err)
	}
	if _, err := DecodeRegister(buf); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
