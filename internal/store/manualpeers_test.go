package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"dnieim/internal/domain"
	"dnieim/internal/store"
)

func TestManualPeers_AddListRoundTrip(t *testing.T) {
	mp := store.NewManualPeers(t.TempDir())
	fp := domain.Fingerprint("1111111111111111")
	pub := domain.X25519Public{9, 9, 9}

	if err := mp.Add(store.ManualPeer{
		Fingerprint: fp,
		StaticPub:   pub,
		Address:     "10.0.0.5:6666",
		DisplayName: "alice",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	peers, err := mp.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	got := peers[0]
	if got.Fingerprint != fp || got.StaticPub != pub || got.Address != "10.0.0.5:6666" || got.DisplayName != "alice" {
		t.Fatalf("List mismatch: got %+v", got)
	}
}

func TestManualPeers_AddOverwritesSameFingerprint(t *testing.T) {
	mp := store.NewManualPeers(t.TempDir())
	fp := domain.Fingerprint("2222222222222222")

	if err := mp.Add(store.ManualPeer{Fingerprint: fp, Address: "10.0.0.1:6666", DisplayName: "old"}); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := mp.Add(store.ManualPeer{Fingerprint: fp, Address: "10.0.0.2:6666", DisplayName: "new"}); err != nil {
		t.Fatalf("Add second: %v", err)
	}

	peers, err := mp.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected the second Add to overwrite, got %d entries", len(peers))
	}
	if peers[0].Address != "10.0.0.2:6666" || peers[0].DisplayName != "new" {
		t.Fatalf("expected overwritten entry, got %+v", peers[0])
	}
}

func TestManualPeers_ListSkipsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	mp := store.NewManualPeers(dir)

	// Write a file directly containing one well-formed 32-byte-hex record
	// and two malformed ones (bad hex, wrong length), simulating hand-edited
	// or truncated entries that Add would never itself produce.
	path := filepath.Join(dir, "manual_peers.json")
	goodPub := "0101010101010101010101010101010101010101010101010101010101010101"[:64]
	corrupted := `{
		"3333333333333333": {"static_pub": "` + goodPub + `", "address": "10.0.0.3:6666"},
		"bad-hex":           {"static_pub": "not-hex", "address": "10.0.0.9:6666"},
		"bad-length":        {"static_pub": "aabb", "address": "10.0.0.10:6666"}
	}`
	if err := os.WriteFile(path, []byte(corrupted), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	peers, err := mp.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected only the well-formed entry to survive, got %d peers: %+v", len(peers), peers)
	}
	if peers[0].Fingerprint != domain.Fingerprint("3333333333333333") {
		t.Fatalf("expected the well-formed fingerprint to survive, got %+v", peers[0])
	}
}
