package store

import (
	"encoding/hex"
	"path/filepath"
	"sync"

	"dnieim/internal/domain"
)

const manualPeersFile = "manual_peers.json"

type manualPeerRecord struct {
	StaticPub   string `json:"static_pub"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
}

// ManualPeer is one operator-entered peer address, persisted so a manual
// `add-peer` survives past the one-shot CLI process that ran it.
type ManualPeer struct {
	Fingerprint domain.Fingerprint
	StaticPub   domain.X25519Public
	Address     string
	DisplayName string
}

// ManualPeers is a file-backed set of manually configured peers, following
// the same atomic write-temp-then-rename pattern as ContactBook and Queue.
type ManualPeers struct {
	dir string
	mu  sync.Mutex
}

// NewManualPeers returns a ManualPeers store rooted at dir.
func NewManualPeers(dir string) *ManualPeers {
	return &ManualPeers{dir: dir}
}

func (m *ManualPeers) path() string { return filepath.Join(m.dir, manualPeersFile) }

// Add persists a manual peer entry, overwriting any prior entry for the
// same fingerprint.
func (m *ManualPeers) Add(p ManualPeer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]manualPeerRecord)
	if err := readJSON(m.path(), &records); err != nil {
		return err
	}
	records[string(p.Fingerprint)] = manualPeerRecord{
		StaticPub:   hex.EncodeToString(p.StaticPub.Slice()),
		Address:     p.Address,
		DisplayName: p.DisplayName,
	}
	return writeJSON(m.path(), records, 0o600)
}

// List returns every persisted manual peer.
func (m *ManualPeers) List() ([]ManualPeer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]manualPeerRecord)
	if err := readJSON(m.path(), &records); err != nil {
		return nil, err
	}
	out := make([]ManualPeer, 0, len(records))
	for fp, r := range records {
		pubBytes, err := hex.DecodeString(r.StaticPub)
		if err != nil || len(pubBytes) != 32 {
			continue
		}
		out = append(out, ManualPeer{
			Fingerprint: domain.Fingerprint(fp),
			StaticPub:   domain.MustX25519Public(pubBytes),
			Address:     r.Address,
			DisplayName: r.DisplayName,
		})
	}
	return out, nil
}
