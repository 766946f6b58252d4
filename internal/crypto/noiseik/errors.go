package noiseik

import "errors"

// Errors returned by the Crypto Engine, named after spec.md §4.1's contract
// so callers can branch with errors.Is.
var (
	// ErrHandshakeDecryptFailed is returned by ReadMessage1/ReadMessage2 on
	// AEAD tag mismatch or a malformed handshake payload. Deliberately
	// generic: it must not distinguish "bad tag" from "bad length" to a
	// caller, since either could be probed by an attacker (no oracle).
	ErrHandshakeDecryptFailed = errors.New("noiseik: handshake decrypt failed")

	// ErrOutOfOrder is returned when a handshake method is called out of
	// the IK message sequence for the state's role.
	ErrOutOfOrder = errors.New("noiseik: handshake message out of order")

	// ErrHandshakeIncomplete is returned by Split before both messages
	// have been processed.
	ErrHandshakeIncomplete = errors.New("noiseik: handshake not complete")

	// ErrInvalidDHOutput is returned when a Diffie-Hellman computation
	// yields the all-zero output, which X25519 produces for a small-order
	// or otherwise degenerate public key.
	ErrInvalidDHOutput = errors.New("noiseik: invalid diffie-hellman output")

	// ErrCounterExhausted is returned by Encrypt once the counter would
	// wrap past 2^64-1; the session must be closed and re-established.
	ErrCounterExhausted = errors.New("noiseik: aead counter exhausted")

	// ErrAeadTagInvalid is returned by Decrypt on authentication failure.
	ErrAeadTagInvalid = errors.New("noiseik: aead tag invalid")
)
