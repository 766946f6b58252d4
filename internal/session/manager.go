// Package session implements the Session Manager: the state machine of
// spec.md §4.5 that drives Noise IK handshakes, keeps the per-connection
// AEAD counters, and hands decrypted plaintext up as domain.Event values.
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"dnieim/internal/crypto/noiseik"
	"dnieim/internal/domain"
	"dnieim/internal/transport"
	"dnieim/internal/wire/packet"
)

const (
	// handshakeTimeout bounds how long a session sits in
	// SessionAwaitingResponse before a single retransmit of message 1, and
	// how long the retransmit itself gets before the session is failed
	// (spec.md §4.5).
	handshakeTimeout = 10 * time.Second
	// idleTimeout closes an Established session that has carried no
	// traffic in either direction for this long (spec.md §4.5).
	idleTimeout = 10 * time.Minute
	// sweepInterval is how often the background loop checks every live
	// session against the two timeouts above.
	sweepInterval = 5 * time.Second
	// eventBacklog bounds the Events() channel; a slow consumer causes
	// drops (logged), never a blocked Manager.
	eventBacklog = 256
)

// PacketSender delivers an already-framed wire packet to endpoint, routed
// either directly over UDP or through the relay, depending on
// endpoint.Source. The composition root supplies the concrete
// implementation; the Session Manager itself is transport-agnostic.
type PacketSender interface {
	Send(endpoint domain.PeerEndpoint, frame []byte) error
}

// EndpointResolver looks up the best-known route to a fingerprint, as
// merged by the Discovery Fabric (spec.md §4.4).
type EndpointResolver interface {
	Resolve(fingerprint domain.Fingerprint) (domain.PeerEndpoint, bool)
}

// sessionKey disambiguates the session table beyond the bare
// connection_id: spec.md §4.5 indexes sessions by
// (connection_id, peer_endpoint_or_fingerprint_hint) precisely so two
// different peers whose randomly chosen connection_ids happen to collide
// get distinct sessions rather than one tearing down the other (spec.md
// §8.6's A/B/C scenario). Origin is that disambiguator.
type sessionKey struct {
	connectionID domain.ConnectionID
	origin       string
}

// originKey derives a sessionKey's origin component from a PeerEndpoint: the
// literal source address for anything with one (LAN, manual, or a locally
// resolved endpoint being dialed out to), or a single shared bucket for
// relay traffic in both directions: an outbound relay endpoint carries the
// relay's own address, an inbound relayed datagram none. The relay wire protocol never surfaces a
// sender's address or fingerprint below the Noise layer — RELAY forwards an
// opaque payload keyed only by destination fingerprint (internal/wire/
// relaywire.Relay carries no source field) — so two distinct relay peers
// colliding on the same connection_id remain indistinguishable at this
// layer; the wire's random 32-bit connection_id keeps that astronomically
// unlikely in practice.
func originKey(ep domain.PeerEndpoint) string {
	if ep.Source != domain.SourceRelay && ep.Address != nil {
		return ep.Address.String()
	}
	return "relay"
}

// entry is the Manager's private bookkeeping for one (connection_id,
// origin) session, wrapping the domain.Session the rest of the system
// observes.
type entry struct {
	key  sessionKey
	sess *domain.Session

	hs         *noiseik.HandshakeState // nil once Established
	sendCipher *noiseik.Cipher
	recvCipher *noiseik.Cipher

	endpoint domain.PeerEndpoint
	msg1     []byte // cached for the single handshake retransmit

	handshakeDeadline time.Time
	retriedHandshake  bool
}

// Manager owns every live Session, keyed by (connection_id, origin), plus a
// fingerprint index for outbound sends and TOFU pinning. Grounded on the
// teacher's services/session.Service constructor-injection shape, adapted
// from a one-shot X3DH service into a long-running stateful manager since
// spec.md's session lives far longer than a single request/response.
type Manager struct {
	identity domain.Identity
	contacts domain.ContactBook
	queue    domain.MessageQueue
	resolver EndpointResolver
	sender   PacketSender
	log      *slog.Logger

	events chan domain.Event

	mu            sync.Mutex
	sessions      map[sessionKey]*entry
	byFingerprint map[domain.Fingerprint]sessionKey
}

// New constructs a Manager. log may be nil, in which case slog.Default is
// used.
func New(identity domain.Identity, contacts domain.ContactBook, queue domain.MessageQueue, resolver EndpointResolver, sender PacketSender, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		identity:      identity,
		contacts:      contacts,
		queue:         queue,
		resolver:      resolver,
		sender:        sender,
		log:           log,
		events:        make(chan domain.Event, eventBacklog),
		sessions:      make(map[sessionKey]*entry),
		byFingerprint: make(map[domain.Fingerprint]sessionKey),
	}
}

// Events returns the channel of session lifecycle and message events. The
// channel is closed when Run returns.
func (m *Manager) Events() <-chan domain.Event { return m.events }

// Run drives the handshake-timeout and idle-timeout sweep until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	defer close(m.events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, e := range m.sessions {
		switch e.sess.State {
		case domain.SessionAwaitingResponse:
			if !now.After(e.handshakeDeadline) {
				continue
			}
			if !e.retriedHandshake {
				e.retriedHandshake = true
				e.handshakeDeadline = now.Add(handshakeTimeout)
				frame := packet.Encode(packet.Packet{Type: packet.HandshakeInit, ConnectionID: e.sess.ConnectionID, Payload: e.msg1})
				if err := m.sender.Send(e.endpoint, frame); err != nil {
					m.log.Warn("session: handshake retransmit failed", "peer", e.sess.PeerFingerprint, "error", err)
				}
				continue
			}
			m.closeSessionLocked(e, "handshake timeout")
		case domain.StateEstablished:
			if now.Sub(e.sess.LastActivity) > idleTimeout {
				m.closeSessionLocked(e, "idle timeout")
			}
		}
	}
}

// closeSessionLocked removes e from both indexes and emits SessionClosed.
// Callers must hold m.mu.
func (m *Manager) closeSessionLocked(e *entry, reason string) {
	e.sess.State = domain.StateClosed
	delete(m.sessions, e.key)
	if m.byFingerprint[e.sess.PeerFingerprint] == e.key {
		delete(m.byFingerprint, e.sess.PeerFingerprint)
	}
	cid := e.sess.ConnectionID
	m.log.Info("session: closed", "peer", e.sess.PeerFingerprint, "connection_id", cid, "reason", reason)
	m.emit(domain.SessionClosed{ConnectionID: cid, PeerFingerprint: e.sess.PeerFingerprint, Reason: reason})
}

func (m *Manager) emit(ev domain.Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("session: event channel full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

func freshConnectionID() (domain.ConnectionID, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return domain.ConnectionID(binary.BigEndian.Uint32(b[:])), nil
}

// Send delivers plaintext on streamID to fingerprint. If a session is
// already Established, it is sent immediately. Otherwise the message is
// durably queued; a handshake is initiated only when no session with
// fingerprint exists yet and both an endpoint and the peer's static key
// are known (from discovery or the contact book). Reports queued=true whenever the caller's plaintext went to
// the durable queue rather than the wire immediately.
func (m *Manager) Send(fingerprint domain.Fingerprint, streamID domain.StreamID, plaintext []byte) (queued bool, err error) {
	if len(plaintext)+16 > transport.MaxPayloadBytes-packet.HeaderSize {
		return false, domain.ErrMessageTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.byFingerprint[fingerprint]; ok {
		e := m.sessions[key]
		if e.sess.State == domain.StateEstablished {
			if err := m.sendDataLocked(e, streamID, plaintext); err != nil {
				return false, err
			}
			return false, nil
		}
		if err := m.queue.Enqueue(domain.QueuedMessage{RecipientFingerprint: fingerprint, StreamID: streamID, Plaintext: plaintext, EnqueuedAt: time.Now()}); err != nil {
			return false, err
		}
		return true, nil
	}

	endpoint, haveEndpoint := m.resolver.Resolve(fingerprint)
	staticPub := endpoint.StaticPub
	haveStatic := haveEndpoint && staticPub != (domain.X25519Public{})
	if !haveStatic {
		if c, found, err := m.contacts.Lookup(fingerprint); err == nil && found {
			staticPub = c.PinnedStaticKey
			haveStatic = true
		}
	}
	if !haveEndpoint || !haveStatic {
		if err := m.queue.Enqueue(domain.QueuedMessage{RecipientFingerprint: fingerprint, StreamID: streamID, Plaintext: plaintext, EnqueuedAt: time.Now()}); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := m.initiateLocked(fingerprint, staticPub, endpoint); err != nil {
		return false, err
	}
	if err := m.queue.Enqueue(domain.QueuedMessage{RecipientFingerprint: fingerprint, StreamID: streamID, Plaintext: plaintext, EnqueuedAt: time.Now()}); err != nil {
		return false, err
	}
	return true, nil
}

// initiateLocked starts a new handshake toward fingerprint at staticPub,
// registers the session in Initiating/AwaitingResponse state, and sends
// message 1. Callers must hold m.mu.
func (m *Manager) initiateLocked(fingerprint domain.Fingerprint, staticPub domain.X25519Public, endpoint domain.PeerEndpoint) error {
	origin := originKey(endpoint)
	cid, err := freshConnectionID()
	if err != nil {
		return fmt.Errorf("session: generate connection_id: %w", err)
	}
	key := sessionKey{connectionID: cid, origin: origin}
	for _, exists := m.sessions[key]; exists; _, exists = m.sessions[key] {
		if cid, err = freshConnectionID(); err != nil {
			return fmt.Errorf("session: generate connection_id: %w", err)
		}
		key = sessionKey{connectionID: cid, origin: origin}
	}

	hs := noiseik.InitHandshake(m.identity.StaticPrivate, m.identity.StaticPublic, m.identity.Fingerprint, staticPub)
	msg1, err := hs.WriteMessage1()
	if err != nil {
		return fmt.Errorf("session: write handshake message 1: %w", err)
	}

	now := time.Now()
	sess := &domain.Session{
		ConnectionID:    cid,
		PeerFingerprint: fingerprint,
		State:           domain.SessionAwaitingResponse,
		Streams:         make(map[domain.StreamID]*domain.Stream),
		CreatedAt:       now,
		LastActivity:    now,
	}
	e := &entry{key: key, sess: sess, hs: hs, endpoint: endpoint, msg1: msg1, handshakeDeadline: now.Add(handshakeTimeout)}
	m.sessions[key] = e
	m.byFingerprint[fingerprint] = key

	frame := packet.Encode(packet.Packet{Type: packet.HandshakeInit, ConnectionID: cid, Payload: msg1})
	if err := m.sender.Send(endpoint, frame); err != nil {
		m.log.Warn("session: initial handshake send failed, will retry on sweep", "peer", fingerprint, "error", err)
	}
	return nil
}

// sendDataLocked encrypts and sends plaintext on an Established session.
// Callers must hold m.mu.
func (m *Manager) sendDataLocked(e *entry, streamID domain.StreamID, plaintext []byte) error {
	counter := e.sess.SendCipher.Counter
	ct, err := e.sendCipher.Encrypt(counter, plaintext)
	if err != nil {
		if errors.Is(err, noiseik.ErrCounterExhausted) {
			m.closeSessionLocked(e, "send counter exhausted")
		}
		return err
	}
	e.sess.SendCipher.Counter++
	e.sess.LastActivity = time.Now()
	frame := packet.Encode(packet.Packet{Type: packet.Data, ConnectionID: e.sess.ConnectionID, StreamID: streamID, Payload: ct})
	return m.sender.Send(e.endpoint, frame)
}

// HandleDatagram decodes a raw datagram and dispatches it by packet type.
// origin describes how the datagram arrived: Address set for a directly
// received UDP datagram, Source == domain.SourceRelay (Address nil) for
// one unwrapped from the relay's RELAY opcode. Its originKey is part of the
// session key for every packet type; on HANDSHAKE_INIT it also fixes the
// reply route for a peer this Manager has no prior session with.
func (m *Manager) HandleDatagram(origin domain.PeerEndpoint, raw []byte) {
	pkt, err := packet.Decode(raw)
	if err != nil {
		m.log.Debug("session: malformed packet dropped", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch pkt.Type {
	case packet.HandshakeInit:
		m.handleHandshakeInitLocked(origin, pkt)
	case packet.HandshakeResp:
		m.handleHandshakeRespLocked(origin, pkt)
	case packet.Data:
		m.handleDataLocked(origin, pkt)
	case packet.Ack:
		// No ACK semantics are defined by spec.md's DATA delivery model;
		// the type byte is reserved on the wire and otherwise inert.
	}
}

func (m *Manager) handleHandshakeInitLocked(origin domain.PeerEndpoint, pkt packet.Packet) {
	responder := noiseik.InitResponderHandshake(m.identity.StaticPrivate, m.identity.StaticPublic)
	if err := responder.ReadMessage1(pkt.Payload); err != nil {
		m.log.Debug("session: handshake message 1 rejected", "error", err)
		return
	}
	peerFP := responder.RemoteFingerprint()
	peerStatic := responder.RemoteStatic()

	pinResult, err := m.contacts.Pin(peerFP, peerStatic, origin.DisplayName)
	if err != nil {
		m.log.Error("session: contact pin failed", "peer", peerFP, "error", err)
		return
	}
	if pinResult == domain.PinViolation {
		existing, _, _ := m.contacts.Lookup(peerFP)
		m.log.Warn("session: pinning violation, refusing handshake", "peer", peerFP)
		m.emit(domain.PinningViolation{Fingerprint: peerFP, PresentedKey: peerStatic, PinnedKey: existing.PinnedStaticKey})
		return
	}

	msg2, err := responder.WriteMessage2()
	if err != nil {
		m.log.Error("session: write handshake message 2 failed", "peer", peerFP, "error", err)
		return
	}
	sendCipher, recvCipher, _, err := responder.Split()
	if err != nil {
		m.log.Error("session: split failed", "peer", peerFP, "error", err)
		return
	}

	key := sessionKey{connectionID: pkt.ConnectionID, origin: originKey(origin)}
	if old, ok := m.sessions[key]; ok {
		// Same (connection_id, origin) pair already live: this is the same
		// peer restarting its handshake (our reply was lost, say), not a
		// collision with a different peer, so it's fine to replace. A
		// colliding connection_id from a *different* origin gets a
		// different key above and simply coexists (spec.md §8.6).
		m.closeSessionLocked(old, "handshake restarted")
	}
	if oldKey, ok := m.byFingerprint[peerFP]; ok {
		if old := m.sessions[oldKey]; old != nil {
			m.closeSessionLocked(old, "superseded by new handshake")
		}
	}

	replyEndpoint := origin
	replyEndpoint.Fingerprint = peerFP
	replyEndpoint.StaticPub = peerStatic
	replyEndpoint.LastSeen = time.Now()

	now := time.Now()
	sess := &domain.Session{
		ConnectionID:    pkt.ConnectionID,
		PeerFingerprint: peerFP,
		State:           domain.StateEstablished,
		SendCipher:      domain.CipherState{},
		RecvCipher:      domain.CipherState{},
		Streams:         make(map[domain.StreamID]*domain.Stream),
		CreatedAt:       now,
		LastActivity:    now,
	}
	e := &entry{key: key, sess: sess, sendCipher: sendCipher, recvCipher: recvCipher, endpoint: replyEndpoint}
	m.sessions[key] = e
	m.byFingerprint[peerFP] = key

	frame := packet.Encode(packet.Packet{Type: packet.HandshakeResp, ConnectionID: pkt.ConnectionID, Payload: msg2})
	if err := m.sender.Send(replyEndpoint, frame); err != nil {
		m.log.Warn("session: handshake response send failed", "peer", peerFP, "error", err)
	}

	m.log.Info("session: established (responder)", "peer", peerFP, "connection_id", pkt.ConnectionID)
	m.emit(domain.SessionEstablished{ConnectionID: pkt.ConnectionID, PeerFingerprint: peerFP, At: now})
	m.drainQueueLocked(e)
}

func (m *Manager) handleHandshakeRespLocked(origin domain.PeerEndpoint, pkt packet.Packet) {
	key := sessionKey{connectionID: pkt.ConnectionID, origin: originKey(origin)}
	e, ok := m.sessions[key]
	if !ok || e.sess.State != domain.SessionAwaitingResponse || e.hs == nil {
		return
	}
	if err := e.hs.ReadMessage2(pkt.Payload); err != nil {
		m.log.Debug("session: handshake message 2 rejected", "peer", e.sess.PeerFingerprint, "error", err)
		return
	}
	sendCipher, recvCipher, peerStatic, err := e.hs.Split()
	if err != nil {
		m.log.Error("session: split failed", "peer", e.sess.PeerFingerprint, "error", err)
		return
	}

	pinResult, err := m.contacts.Pin(e.sess.PeerFingerprint, peerStatic, "")
	if err != nil {
		m.log.Error("session: contact pin failed", "peer", e.sess.PeerFingerprint, "error", err)
		return
	}
	if pinResult == domain.PinViolation {
		existing, _, _ := m.contacts.Lookup(e.sess.PeerFingerprint)
		m.log.Warn("session: pinning violation on handshake response, refusing", "peer", e.sess.PeerFingerprint)
		m.emit(domain.PinningViolation{Fingerprint: e.sess.PeerFingerprint, PresentedKey: peerStatic, PinnedKey: existing.PinnedStaticKey})
		m.closeSessionLocked(e, "pinning violation")
		return
	}

	e.sendCipher, e.recvCipher = sendCipher, recvCipher
	e.hs = nil
	e.msg1 = nil
	e.sess.State = domain.StateEstablished
	e.sess.LastActivity = time.Now()

	m.log.Info("session: established (initiator)", "peer", e.sess.PeerFingerprint, "connection_id", pkt.ConnectionID)
	m.emit(domain.SessionEstablished{ConnectionID: pkt.ConnectionID, PeerFingerprint: e.sess.PeerFingerprint, At: e.sess.LastActivity})
	m.drainQueueLocked(e)
}

// drainQueueLocked flushes any durably queued messages for e's peer now
// that its session is Established, re-enqueuing the undelivered remainder
// at the head on the first send failure (spec.md §4.8).
func (m *Manager) drainQueueLocked(e *entry) {
	msgs, err := m.queue.Drain(e.sess.PeerFingerprint)
	if err != nil {
		m.log.Error("session: queue drain failed", "peer", e.sess.PeerFingerprint, "error", err)
		return
	}
	for i, qm := range msgs {
		if err := m.sendDataLocked(e, qm.StreamID, qm.Plaintext); err != nil {
			if rqErr := m.queue.Requeue(e.sess.PeerFingerprint, msgs[i:]); rqErr != nil {
				m.log.Error("session: requeue after partial drain failed", "peer", e.sess.PeerFingerprint, "error", rqErr)
			}
			m.log.Warn("session: queue drain aborted midway", "peer", e.sess.PeerFingerprint, "delivered", i, "remaining", len(msgs)-i, "error", err)
			return
		}
	}
}

func (m *Manager) handleDataLocked(origin domain.PeerEndpoint, pkt packet.Packet) {
	key := sessionKey{connectionID: pkt.ConnectionID, origin: originKey(origin)}
	e, ok := m.sessions[key]
	if !ok || e.sess.State != domain.StateEstablished {
		return
	}
	counter := e.sess.RecvCipher.Counter
	pt, err := e.recvCipher.Decrypt(counter, pkt.Payload)
	if err != nil {
		m.log.Warn("session: decrypt failed, closing session fatally", "peer", e.sess.PeerFingerprint, "connection_id", pkt.ConnectionID, "error", err)
		m.closeSessionLocked(e, "decrypt failure")
		return
	}
	e.sess.RecvCipher.Counter++
	e.sess.LastActivity = time.Now()

	if _, ok := e.sess.Streams[pkt.StreamID]; !ok {
		e.sess.Streams[pkt.StreamID] = &domain.Stream{ID: pkt.StreamID, SessionID: pkt.ConnectionID}
	}
	e.sess.Streams[pkt.StreamID].LastActivity = e.sess.LastActivity

	m.emit(domain.MessageReceived{PeerFingerprint: e.sess.PeerFingerprint, StreamID: pkt.StreamID, Plaintext: pt, ReceivedAt: e.sess.LastActivity})
}

// Snapshot returns the live sessions, for CLI/status reporting.
func (m *Manager) Snapshot() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, *e.sess)
	}
	return out
}

// dispatcherAdapter satisfies transport.Dispatcher's from-addr shape,
// wrapping a directly-received UDP datagram as a domain.PeerEndpoint origin
// so HandleDatagram has one call shape regardless of transport.
type dispatcherAdapter struct{ m *Manager }

// NewDirectDispatcher adapts m to transport.Dispatcher for datagrams
// arriving on the local UDP socket (as opposed to relayed ones, which the
// relay client feeds to HandleDatagram directly with a relay-sourced
// origin).
func NewDirectDispatcher(m *Manager) transport.Dispatcher { return dispatcherAdapter{m: m} }

func (d dispatcherAdapter) HandleDatagram(from *net.UDPAddr, payload []byte) {
	d.m.HandleDatagram(domain.PeerEndpoint{Address: from, LastSeen: time.Now(), Source: domain.SourceManual}, payload)
}

var _ transport.Dispatcher = dispatcherAdapter{}
