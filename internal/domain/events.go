package domain

import "time"

// Event is the sealed set of notifications the core emits to whatever UI or
// CLI front-end is watching (spec.md §6). Each concrete type below
// implements it as a marker.
type Event interface{ isEvent() }

// PeerDiscovered fires the first time a fingerprint is observed, or when
// its endpoint changes source or address.
type PeerDiscovered struct {
	Fingerprint Fingerprint
	Endpoint    PeerEndpoint
}

// PeerLost fires when a previously discovered peer's LAN advertisement
// expires, with no replacement observed. The relay backend never emits it.
type PeerLost struct {
	Fingerprint Fingerprint
}

// SessionEstablished fires when a session's handshake completes and it
// transitions to StateEstablished.
type SessionEstablished struct {
	ConnectionID    ConnectionID
	PeerFingerprint Fingerprint
	At              time.Time
}

// SessionClosed fires when a session is torn down, whether by explicit
// close, handshake failure, or a fatal decrypt error.
type SessionClosed struct {
	ConnectionID    ConnectionID
	PeerFingerprint Fingerprint
	Reason          string
}

// MessageReceived fires for each plaintext delivered on an established
// session's stream.
type MessageReceived struct {
	PeerFingerprint Fingerprint
	StreamID        StreamID
	Plaintext       []byte
	ReceivedAt      time.Time
}

// PinningViolation fires when a peer presents a static key that does not
// match its pinned Contact entry (spec.md §4.7). The session must not be
// established.
type PinningViolation struct {
	Fingerprint  Fingerprint
	PresentedKey X25519Public
	PinnedKey    X25519Public
}

func (PeerDiscovered) isEvent()     {}
func (PeerLost) isEvent()           {}
func (SessionEstablished) isEvent() {}
func (SessionClosed) isEvent()      {}
func (MessageReceived) isEvent()    {}
func (PinningViolation) isEvent()   {}
