package noiseik

import (
	"crypto/cipher"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher is one direction of transport encryption produced by
// HandshakeState.Split: a fixed key plus a strictly monotonic counter that
// doubles as the AEAD nonce (spec.md §4.1). Callers own the counter's
// bookkeeping against the Session's send/recv counter fields; Cipher only
// refuses to wrap.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher wraps a 32-byte transport key from Split.
func NewCipher(key [32]byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under counter as a little-endian 96-bit nonce, no
// additional data. Fails with ErrCounterExhausted at the last usable value.
func (c *Cipher) Encrypt(counter uint64, plaintext []byte) ([]byte, error) {
	if counter == math.MaxUint64 {
		return nil, ErrCounterExhausted
	}
	return c.aead.Seal(nil, nonceFromCounter(counter), plaintext, nil), nil
}

// Decrypt opens ciphertext under counter. Fails with ErrAeadTagInvalid on
// authentication failure; the caller (Session Manager) is responsible for
// rejecting counters that do not equal the expected next value before ever
// calling Decrypt, per the strict no-window replay rule.
func (c *Cipher) Decrypt(counter uint64, ciphertext []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonceFromCounter(counter), ciphertext, nil)
	if err != nil {
		return nil, ErrAeadTagInvalid
	}
	return plaintext, nil
}
