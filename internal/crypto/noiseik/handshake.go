// Package noiseik implements the Crypto Engine: a hand-rolled Noise IK
// handshake over X25519/ChaCha20-Poly1305/BLAKE2s, plus the per-direction
// AEAD transport cipher that rides on top of it.
package noiseik

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"dnieim/internal/domain"
	"dnieim/internal/util/memzero"
)

type role int

const (
	roleInitiator role = iota
	roleResponder
)

// stage tracks how many of the two IK messages this state has processed,
// so WriteMessage/ReadMessage calls out of sequence fail closed.
type stage int

const (
	stageStart stage = iota
	stageMsg1Done
	stageMsg2Done
)

// HandshakeState drives one side of a single IK handshake. It is not safe
// for concurrent use and is discarded after Split.
type HandshakeState struct {
	ss    *symmetricState
	role  role
	stage stage

	s  domain.X25519Private
	sp domain.X25519Public
	e  domain.X25519Private
	ep domain.X25519Public

	rs domain.X25519Public // remote static: known ahead (initiator) or learned from message 1 (responder)
	re domain.X25519Public // remote ephemeral: learned from the peer's message

	localFingerprint  domain.Fingerprint // initiator only: sent inside the "s" payload
	remoteFingerprint domain.Fingerprint // responder only: learned from the "s" payload
}

// InitHandshake starts the initiator side. responderStatic must be known in
// advance, from a discovery advertisement or a pinned Contact.
//
// localFingerprint travels inside the AEAD-sealed static-key payload of
// message 1: the wire format alone (packet.Packet's connection_id) carries
// no peer identifier, but the Session Manager needs the initiator's claimed
// fingerprint to check it against the Contact Book, so it rides along with
// the one piece of authenticated data the IK pattern already seals.
func InitHandshake(staticPriv domain.X25519Private, staticPub domain.X25519Public, localFingerprint domain.Fingerprint, responderStatic domain.X25519Public) *HandshakeState {
	ss := newSymmetricState()
	ss.mixHash(nil)
	ss.mixHash(responderStatic.Slice())
	return &HandshakeState{ss: ss, role: roleInitiator, s: staticPriv, sp: staticPub, rs: responderStatic, localFingerprint: localFingerprint}
}

// InitResponderHandshake starts the responder side, ready to accept a
// message 1 from any initiator that knows this static public key.
func InitResponderHandshake(staticPriv domain.X25519Private, staticPub domain.X25519Public) *HandshakeState {
	ss := newSymmetricState()
	ss.mixHash(nil)
	ss.mixHash(staticPub.Slice())
	return &HandshakeState{ss: ss, role: roleResponder, s: staticPriv, sp: staticPub}
}

// IsComplete reports whether both IK messages have been processed and
// Split is ready to be called.
func (hs *HandshakeState) IsComplete() bool { return hs.stage == stageMsg2Done }

// RemoteStatic returns the peer's static public key, valid once known: for
// the initiator, immediately; for the responder, after ReadMessage1.
func (hs *HandshakeState) RemoteStatic() domain.X25519Public { return hs.rs }

// RemoteFingerprint returns the initiator's claimed fingerprint, valid on
// the responder side after ReadMessage1.
func (hs *HandshakeState) RemoteFingerprint() domain.Fingerprint { return hs.remoteFingerprint }

func generateEphemeral() (domain.X25519Private, domain.X25519Public, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, err
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return domain.X25519Private{}, domain.X25519Public{}, err
	}
	return priv, domain.MustX25519Public(pubBytes), nil
}

func dh(priv domain.X25519Private, pub domain.X25519Public) ([]byte, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, err
	}
	var zero [32]byte
	if len(out) == len(zero) {
		allZero := true
		for i := range zero {
			if out[i] != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return nil, ErrInvalidDHOutput
		}
	}
	return out, nil
}

// WriteMessage1 produces the initiator's e, es, s, ss handshake message
// (spec.md §4.1): a 32-byte ephemeral public key followed by the
// AEAD-sealed static public key and claimed fingerprint (48 bytes plus a
// 16-byte tag).
func (hs *HandshakeState) WriteMessage1() ([]byte, error) {
	if hs.role != roleInitiator || hs.stage != stageStart {
		return nil, ErrOutOfOrder
	}
	e, ep, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	hs.e, hs.ep = e, ep
	hs.ss.mixHash(ep.Slice())

	es, err := dh(hs.e, hs.rs)
	if err != nil {
		return nil, err
	}
	hs.ss.mixKey(es)
	memzero.Zero(es)

	sPlain := append(append([]byte{}, hs.sp.Slice()...), []byte(hs.localFingerprint)...)
	sCipher, err := hs.ss.encryptAndHash(sPlain)
	if err != nil {
		return nil, err
	}

	ss, err := dh(hs.s, hs.rs)
	if err != nil {
		return nil, err
	}
	hs.ss.mixKey(ss)
	memzero.Zero(ss)

	hs.stage = stageMsg1Done
	msg := make([]byte, 0, 32+len(sCipher))
	msg = append(msg, ep.Slice()...)
	msg = append(msg, sCipher...)
	return msg, nil
}

// ReadMessage1 processes the initiator's message on the responder side,
// recovering and authenticating the initiator's static public key and
// claimed fingerprint.
func (hs *HandshakeState) ReadMessage1(msg []byte) error {
	if hs.role != roleResponder || hs.stage != stageStart {
		return ErrOutOfOrder
	}
	if len(msg) != 32+48+16 {
		return ErrHandshakeDecryptFailed
	}
	hs.re = domain.MustX25519Public(msg[:32])
	hs.ss.mixHash(hs.re.Slice())

	es, err := dh(hs.s, hs.re)
	if err != nil {
		return ErrHandshakeDecryptFailed
	}
	hs.ss.mixKey(es)
	memzero.Zero(es)

	sPlain, err := hs.ss.decryptAndHash(msg[32:])
	if err != nil {
		return ErrHandshakeDecryptFailed
	}
	if len(sPlain) != 48 {
		return ErrHandshakeDecryptFailed
	}
	hs.rs = domain.MustX25519Public(sPlain[:32])
	hs.remoteFingerprint = domain.Fingerprint(sPlain[32:48])

	ss, err := dh(hs.s, hs.rs)
	if err != nil {
		return ErrHandshakeDecryptFailed
	}
	hs.ss.mixKey(ss)
	memzero.Zero(ss)

	hs.stage = stageMsg1Done
	return nil
}

// WriteMessage2 produces the responder's e, ee, se handshake message: a
// bare 32-byte ephemeral public key.
func (hs *HandshakeState) WriteMessage2() ([]byte, error) {
	if hs.role != roleResponder || hs.stage != stageMsg1Done {
		return nil, ErrOutOfOrder
	}
	e, ep, err := generateEphemeral()
	if err != nil {
		return nil, err
	}
	hs.e, hs.ep = e, ep
	hs.ss.mixHash(ep.Slice())

	ee, err := dh(hs.e, hs.re)
	if err != nil {
		return nil, err
	}
	hs.ss.mixKey(ee)
	memzero.Zero(ee)

	se, err := dh(hs.e, hs.rs)
	if err != nil {
		return nil, err
	}
	hs.ss.mixKey(se)
	memzero.Zero(se)

	hs.stage = stageMsg2Done
	return append([]byte{}, ep.Slice()...), nil
}

// ReadMessage2 processes the responder's reply on the initiator side.
func (hs *HandshakeState) ReadMessage2(msg []byte) error {
	if hs.role != roleInitiator || hs.stage != stageMsg1Done {
		return ErrOutOfOrder
	}
	if len(msg) != 32 {
		return ErrHandshakeDecryptFailed
	}
	hs.re = domain.MustX25519Public(msg)
	hs.ss.mixHash(hs.re.Slice())

	ee, err := dh(hs.e, hs.re)
	if err != nil {
		return ErrHandshakeDecryptFailed
	}
	hs.ss.mixKey(ee)
	memzero.Zero(ee)

	se, err := dh(hs.s, hs.re)
	if err != nil {
		return ErrHandshakeDecryptFailed
	}
	hs.ss.mixKey(se)
	memzero.Zero(se)

	hs.stage = stageMsg2Done
	return nil
}

// Split finalizes the handshake into a pair of directional transport
// ciphers plus the peer's authenticated static public key. The initiator's
// send cipher equals the responder's receive cipher, and vice versa.
func (hs *HandshakeState) Split() (send, recv *Cipher, peerStatic domain.X25519Public, err error) {
	if !hs.IsComplete() {
		return nil, nil, domain.X25519Public{}, ErrHandshakeIncomplete
	}
	k1, k2 := hs.ss.split()
	sendKey, recvKey := k1, k2
	if hs.role == roleResponder {
		sendKey, recvKey = k2, k1
	}
	send, err = NewCipher(sendKey)
	if err != nil {
		return nil, nil, domain.X25519Public{}, err
	}
	recv, err = NewCipher(recvKey)
	if err != nil {
		return nil, nil, domain.X25519Public{}, err
	}
	return send, recv, hs.rs, nil
}
