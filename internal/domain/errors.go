package domain

import "errors"

// Sentinel errors surfaced across package boundaries so callers can branch
// with errors.Is instead of parsing strings (spec.md §7).
var (
	// ErrQueueFull is returned by MessageQueue.Enqueue once a recipient's
	// queue has reached MaxQueueDepth.
	ErrQueueFull = errors.New("domain: message queue full")

	// ErrPinningViolation is returned when a peer's presented static key
	// does not match its pinned Contact entry.
	ErrPinningViolation = errors.New("domain: pinning violation")

	// ErrUnknownFingerprint is returned by lookups that find no matching
	// entry, where the caller does not need a (value, bool) form.
	ErrUnknownFingerprint = errors.New("domain: unknown fingerprint")

	// ErrMessageTooLarge is returned by a Transport when asked to send a
	// frame exceeding its MTU policy.
	ErrMessageTooLarge = errors.New("domain: message exceeds transport MTU")

	// ErrSessionClosed is returned by operations attempted against a
	// session that has already transitioned to StateClosed.
	ErrSessionClosed = errors.New("domain: session closed")

	// ErrCounterExhausted is returned when a CipherState's counter would
	// overflow; the session must be closed and re-established.
	ErrCounterExhausted = errors.New("domain: aead counter exhausted")

	// ErrReplay is returned when an inbound packet's counter does not
	// equal the session's expected next receive counter.
	ErrReplay = errors.New("domain: replayed or out-of-order counter")

	// ErrBindFailed wraps a Transport's failure to bind its UDP socket,
	// mapped to spec.md §6's exit code 2.
	ErrBindFailed = errors.New("domain: socket bind failed")

	// ErrStorageFailed wraps a failure to read or write persistent state
	// (identity, contact book, message queue), mapped to spec.md §6's exit
	// code 3.
	ErrStorageFailed = errors.New("domain: persistent storage failure")
)
