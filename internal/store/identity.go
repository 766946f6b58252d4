package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"dnieim/internal/domain"
	"dnieim/internal/util/memzero"
)

const identityFile = "identity.enc"

// IdentityStore persists the local Identity encrypted at rest under a
// passphrase, so a stolen home directory alone does not leak the static
// private key.
type IdentityStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityStore returns an IdentityStore rooted at dir.
func NewIdentityStore(dir string) *IdentityStore {
	return &IdentityStore{dir: dir}
}

type identityRecord struct {
	Fingerprint   domain.Fingerprint   `json:"fingerprint"`
	DisplayName   string               `json:"display_name"`
	StaticPrivate domain.X25519Private `json:"static_private"`
	StaticPublic  domain.X25519Public  `json:"static_public"`
}

type envelope struct {
	Salt []byte `json:"salt"`
	CT   []byte `json:"ct"`
}

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Save encrypts id under passphrase and writes it atomically.
func (s *IdentityStore) Save(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(identityRecord{
		Fingerprint:   id.Fingerprint,
		DisplayName:   id.DisplayName,
		StaticPrivate: id.StaticPrivate,
		StaticPublic:  id.StaticPublic,
	})
	if err != nil {
		return err
	}
	blob, err := encryptEnvelope(passphrase, raw)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFile), blob, 0o600)
}

// Load decrypts the identity written by Save.
func (s *IdentityStore) Load(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("store: read identity: %w: %w", domain.ErrStorageFailed, err)
	}
	raw, err := decryptEnvelope(passphrase, blob)
	if err != nil {
		return domain.Identity{}, err
	}
	var rec identityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		Fingerprint:   rec.Fingerprint,
		DisplayName:   rec.DisplayName,
		StaticPrivate: rec.StaticPrivate,
		StaticPublic:  rec.StaticPublic,
	}, nil
}

// Exists reports whether an identity has already been persisted at dir.
func (s *IdentityStore) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, identityFile))
	return err == nil
}

// encryptEnvelope derives a fresh key from a random salt each call, so the
// fixed all-zero nonce below never repeats under the same key.
func encryptEnvelope(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	ct := aead.Seal(nil, nonce, plaintext, salt)
	return json.Marshal(envelope{Salt: salt, CT: ct})
}

func decryptEnvelope(passphrase string, blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), env.Salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, env.CT, env.Salt)
}
