package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/curve25519"

	"dnieim/internal/domain"
)

// DevProvider stands in for the external identity provider spec.md §1
// deliberately keeps out of scope (a national-ID smart card or similar):
// it mints a fresh X25519 static keypair locally and derives the
// fingerprint from it, rather than delegating to real hardware. cmd/dnieim
// uses it so `init` works out of the box; a deployment with an actual
// smart-card reader would swap this for a real domain.IdentityProvider
// without any other package noticing.
type DevProvider struct {
	DisplayName string
}

// Authenticate generates a fresh static keypair and derives a 16-hex
// fingerprint from its public half via BLAKE2s, matching the byte count
// domain.Fingerprint.Valid requires.
func (p DevProvider) Authenticate() (domain.Fingerprint, string, domain.X25519Private, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return "", "", domain.X25519Private{}, fmt.Errorf("identity: generate static key: %w", err)
	}
	pubBytes, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return "", "", domain.X25519Private{}, fmt.Errorf("identity: derive static public key: %w", err)
	}
	sum := blake2s.Sum256(pubBytes)
	fingerprint := domain.Fingerprint(hex.EncodeToString(sum[:8]))

	name := p.DisplayName
	if name == "" {
		name = "anonymous"
	}
	return fingerprint, name, priv, nil
}

var _ domain.IdentityProvider = DevProvider{}
