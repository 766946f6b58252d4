package store_test

import (
	"testing"

	"dnieim/internal/domain"
	"dnieim/internal/store"
)

func TestIdentityStore_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	pass := "correct horse battery staple"

	s := store.NewIdentityStore(home)
	if s.Exists() {
		t.Fatal("Exists true before Save")
	}

	id := domain.Identity{
		Fingerprint:   "0123456789abcdef",
		DisplayName:   "alice",
		StaticPrivate: domain.X25519Private{1, 2, 3},
		StaticPublic:  domain.X25519Public{4, 5, 6},
	}
	if err := s.Save(pass, id); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists() {
		t.Fatal("Exists false after Save")
	}

	got, err := s.Load(pass)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Fingerprint != id.Fingerprint || got.DisplayName != id.DisplayName ||
		got.StaticPrivate != id.StaticPrivate || got.StaticPublic != id.StaticPublic {
		t.Fatalf("Load mismatch: got %+v, want %+v", got, id)
	}
}

func TestIdentityStore_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	s := store.NewIdentityStore(home)

	id := domain.Identity{Fingerprint: "0123456789abcdef", StaticPublic: domain.X25519Public{9}}
	if err := s.Save("correct", id); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Load("wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}
