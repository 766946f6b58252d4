package domain

import "time"

// SessionState is the state machine of spec.md §4.5.
type SessionState int

const (
	SessionInitiating SessionState = iota
	SessionAwaitingResponse
	StateEstablished
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInitiating:
		return "Initiating"
	case SessionAwaitingResponse:
		return "AwaitingResponse"
	case StateEstablished:
		return "Established"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionID identifies a session on the wire (spec.md §4.2): a 32-bit
// value chosen by the initiator, echoed by the responder.
type ConnectionID uint32

// CipherState is a single Noise IK directional AEAD state: a key plus a
// strictly monotonic send/receive counter. Two are held per session, one
// per direction, per spec.md §4.1.
type CipherState struct {
	Key     [32]byte
	Counter uint64
}

// Session is one peer-to-peer connection's live state (spec.md §3, §4.5).
// Zero value is not usable; construct via session.Manager.
type Session struct {
	ConnectionID    ConnectionID
	PeerFingerprint Fingerprint
	State           SessionState
	SendCipher      CipherState
	RecvCipher      CipherState
	Streams         map[StreamID]*Stream
	CreatedAt       time.Time
	LastActivity    time.Time
}

// StreamID multiplexes independent message channels within a session
// (spec.md §4.6): a 16-bit value chosen by whichever side opens it.
type StreamID uint16

// Stream is one multiplexed channel within a Session.
type Stream struct {
	ID           StreamID
	SessionID    ConnectionID
	LastActivity time.Time
}
