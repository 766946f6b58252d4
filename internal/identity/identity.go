// Package identity bootstraps the local peer's long-term Identity: on
// first run it consults the external identity provider and persists the
// result; on every later run it loads the persisted copy without
// re-authenticating, since the static keypair must never be mutated
// (spec.md §3).
package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"dnieim/internal/domain"
)

// ErrAuthFailed wraps a failure from the external identity provider,
// distinguished so cmd/dnieim can map it to exit code 1 (spec.md §6).
var ErrAuthFailed = errors.New("identity: authentication failed")

// Store is the persistence contract this package needs; internal/store's
// IdentityStore satisfies it.
type Store interface {
	Exists() bool
	Save(passphrase string, id domain.Identity) error
	Load(passphrase string) (domain.Identity, error)
}

// Bootstrapper produces a ready-to-use Identity, creating and persisting
// one on first run.
type Bootstrapper struct {
	store    Store
	provider domain.IdentityProvider
}

// New returns a Bootstrapper backed by store and provider.
func New(store Store, provider domain.IdentityProvider) *Bootstrapper {
	return &Bootstrapper{store: store, provider: provider}
}

// LoadOrCreate returns the persisted Identity, authenticating against the
// external provider and persisting a fresh one only if none exists yet.
func (b *Bootstrapper) LoadOrCreate(passphrase string) (domain.Identity, error) {
	if b.store.Exists() {
		id, err := b.store.Load(passphrase)
		if err != nil {
			return domain.Identity{}, fmt.Errorf("identity: load: %w", err)
		}
		return id, nil
	}

	fingerprint, displayName, staticPriv, err := b.provider.Authenticate()
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !fingerprint.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: identity provider returned malformed fingerprint %q", ErrAuthFailed, fingerprint)
	}

	pubBytes, err := curve25519.X25519(staticPriv.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity: derive static public key: %w", err)
	}

	id := domain.Identity{
		Fingerprint:   fingerprint,
		DisplayName:   displayName,
		StaticPrivate: staticPriv,
		StaticPublic:  domain.MustX25519Public(pubBytes),
	}
	if err := b.store.Save(passphrase, id); err != nil {
		return domain.Identity{}, fmt.Errorf("identity: persist: %w", err)
	}
	return id, nil
}
