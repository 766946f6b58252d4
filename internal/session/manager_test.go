package session

import (
	"crypto/rand"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"

	"dnieim/internal/crypto/noiseik"
	"dnieim/internal/domain"
	"dnieim/internal/wire/packet"
)

func genIdentity(t *testing.T, fp domain.Fingerprint, name string) domain.Identity {
	t.Helper()
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	return domain.Identity{Fingerprint: fp, DisplayName: name, StaticPrivate: priv, StaticPublic: domain.MustX25519Public(pubBytes)}
}

type fakeContacts struct {
	mu sync.Mutex
	m  map[domain.Fingerprint]domain.Contact
}

func newFakeContacts() *fakeContacts { return &fakeContacts{m: map[domain.Fingerprint]domain.Contact{}} }

func (f *fakeContacts) Pin(fp domain.Fingerprint, staticPub domain.X25519Public, name string) (domain.PinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.m[fp]
	if !ok {
		f.m[fp] = domain.Contact{Fingerprint: fp, DisplayName: name, PinnedStaticKey: staticPub, FirstSeen: time.Now()}
		return domain.PinCreated, nil
	}
	if existing.PinnedStaticKey != staticPub {
		return domain.PinViolation, nil
	}
	return domain.PinUnchanged, nil
}

func (f *fakeContacts) Lookup(fp domain.Fingerprint) (domain.Contact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[fp]
	return c, ok, nil
}

func (f *fakeContacts) Rename(fp domain.Fingerprint, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.m[fp]
	if !ok {
		return domain.ErrUnknownFingerprint
	}
	c.DisplayName = name
	f.m[fp] = c
	return nil
}

func (f *fakeContacts) List() ([]domain.Contact, error) { return nil, nil }

type fakeQueue struct {
	mu sync.Mutex
	m  map[domain.Fingerprint][]domain.QueuedMessage
}

func newFakeQueue() *fakeQueue { return &fakeQueue{m: map[domain.Fingerprint][]domain.QueuedMessage{}} }

func (q *fakeQueue) Enqueue(msg domain.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.m[msg.RecipientFingerprint]) >= 500 {
		return domain.ErrQueueFull
	}
	q.m[msg.RecipientFingerprint] = append(q.m[msg.RecipientFingerprint], msg)
	return nil
}

func (q *fakeQueue) Drain(fp domain.Fingerprint) ([]domain.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.m[fp]
	delete(q.m, fp)
	return msgs, nil
}

func (q *fakeQueue) Requeue(fp domain.Fingerprint, msgs []domain.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.m[fp] = append(append([]domain.QueuedMessage{}, msgs...), q.m[fp]...)
	return nil
}

func (q *fakeQueue) Depth(fp domain.Fingerprint) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.m[fp]), nil
}

type fakeResolver struct{ m map[domain.Fingerprint]domain.PeerEndpoint }

func (r fakeResolver) Resolve(fp domain.Fingerprint) (domain.PeerEndpoint, bool) {
	e, ok := r.m[fp]
	return e, ok
}

type capturingSender struct {
	mu    sync.Mutex
	frame []byte
}

func (s *capturingSender) Send(_ domain.PeerEndpoint, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = append([]byte{}, frame...)
	return nil
}

func (s *capturingSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func TestManager_HandshakeThenQueuedMessageRoundTrips(t *testing.T) {
	alice := genIdentity(t, "1111111111111111", "alice")
	bob := genIdentity(t, "2222222222222222", "bob")

	aliceSender, bobSender := &capturingSender{}, &capturingSender{}
	aliceResolver := fakeResolver{m: map[domain.Fingerprint]domain.PeerEndpoint{
		bob.Fingerprint: {Fingerprint: bob.Fingerprint, StaticPub: bob.StaticPublic, Source: domain.SourceLAN},
	}}
	bobResolver := fakeResolver{m: map[domain.Fingerprint]domain.PeerEndpoint{}}

	aliceMgr := New(alice, newFakeContacts(), newFakeQueue(), aliceResolver, aliceSender, nil)
	bobMgr := New(bob, newFakeContacts(), newFakeQueue(), bobResolver, bobSender, nil)

	queued, err := aliceMgr.Send(bob.Fingerprint, 1, []byte("hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !queued {
		t.Fatalf("expected message to be queued pending handshake")
	}

	msg1 := aliceSender.last()
	if msg1 == nil {
		t.Fatalf("expected HANDSHAKE_INIT frame")
	}
	bobMgr.HandleDatagram(domain.PeerEndpoint{Source: domain.SourceLAN}, msg1)

	msg2 := bobSender.last()
	if msg2 == nil {
		t.Fatalf("expected HANDSHAKE_RESP frame")
	}
	aliceMgr.HandleDatagram(domain.PeerEndpoint{Source: domain.SourceLAN}, msg2)

	dataFrame := aliceSender.last()
	if p, err := packet.Decode(dataFrame); err != nil || p.Type != packet.Data {
		t.Fatalf("expected drained DATA frame after establishment, got err=%v", err)
	}
	bobMgr.HandleDatagram(domain.PeerEndpoint{Source: domain.SourceLAN}, dataFrame)

	if ev := <-bobMgr.Events(); ev.(domain.SessionEstablished).PeerFingerprint != alice.Fingerprint {
		t.Fatalf("expected SessionEstablished for alice first")
	}
	ev := <-bobMgr.Events()
	mr, ok := ev.(domain.MessageReceived)
	if !ok {
		t.Fatalf("expected MessageReceived, got %T", ev)
	}
	if string(mr.Plaintext) != "hi" || mr.PeerFingerprint != alice.Fingerprint {
		t.Fatalf("unexpected message: %+v", mr)
	}
}

func TestManager_PinningViolationRefusesHandshake(t *testing.T) {
	alice := genIdentity(t, "3333333333333333", "alice")
	bob := genIdentity(t, "4444444444444444", "bob")
	mallory := genIdentity(t, alice.Fingerprint, "mallory") // presents alice's fingerprint with a different key

	bobContacts := newFakeContacts()
	if _, err := bobContacts.Pin(alice.Fingerprint, alice.StaticPublic, "alice"); err != nil {
		t.Fatalf("seed pin: %v", err)
	}

	bobSender := &capturingSender{}
	bobMgr := New(bob, bobContacts, newFakeQueue(), fakeResolver{}, bobSender, nil)

	hs := noiseik.InitHandshake(mallory.StaticPrivate, mallory.StaticPublic, mallory.Fingerprint, bob.StaticPublic)
	msg1, err := hs.WriteMessage1()
	if err != nil {
		t.Fatalf("WriteMessage1: %v", err)
	}
	frame := packet.Encode(packet.Packet{Type: packet.HandshakeInit, ConnectionID: 42, Payload: msg1})

	bobMgr.HandleDatagram(domain.PeerEndpoint{Source: domain.SourceLAN}, frame)

	if bobSender.last() != nil {
		t.Fatalf("expected no HANDSHAKE_RESP sent on pinning violation")
	}
	ev := <-bobMgr.Events()
	pv, ok := ev.(domain.PinningViolation)
	if !ok {
		t.Fatalf("expected PinningViolation, got %T", ev)
	}
	if pv.Fingerprint != alice.Fingerprint || pv.PinnedKey != alice.StaticPublic {
		t.Fatalf("unexpected violation payload: %+v", pv)
	}
	if len(bobMgr.Snapshot()) != 0 {
		t.Fatalf("expected no session established after pinning violation")
	}
}

func TestManager_SendRejectsOversizedMessage(t *testing.T) {
	alice := genIdentity(t, "5555555555555555", "alice")
	mgr := New(alice, newFakeContacts(), newFakeQueue(), fakeResolver{}, &capturingSender{}, nil)

	huge := make([]byte, 100*1024)
	if _, err := mgr.Send("6666666666666666", 1, huge); err != domain.ErrMessageTooLarge {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestManager_CollidingConnectionIDFromDifferentOriginsCoexist(t *testing.T) {
	alice := genIdentity(t, "9999999999999991", "alice")
	carol := genIdentity(t, "9999999999999992", "carol")
	bob := genIdentity(t, "9999999999999993", "bob")

	bobMgr := New(bob, newFakeContacts(), newFakeQueue(), fakeResolver{}, &capturingSender{}, nil)

	aliceHS := noiseik.InitHandshake(alice.StaticPrivate, alice.StaticPublic, alice.Fingerprint, bob.StaticPublic)
	aliceMsg1, err := aliceHS.WriteMessage1()
	if err != nil {
		t.Fatalf("alice WriteMessage1: %v", err)
	}
	carolHS := noiseik.InitHandshake(carol.StaticPrivate, carol.StaticPublic, carol.Fingerprint, bob.StaticPublic)
	carolMsg1, err := carolHS.WriteMessage1()
	if err != nil {
		t.Fatalf("carol WriteMessage1: %v", err)
	}

	// Both initiators land on the same 32-bit connection_id by coincidence,
	// but arrive from distinct source addresses.
	const collidingID = domain.ConnectionID(0xdeadbeef)
	aliceFrame := packet.Encode(packet.Packet{Type: packet.HandshakeInit, ConnectionID: collidingID, Payload: aliceMsg1})
	carolFrame := packet.Encode(packet.Packet{Type: packet.HandshakeInit, ConnectionID: collidingID, Payload: carolMsg1})

	aliceAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}
	carolAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	bobMgr.HandleDatagram(domain.PeerEndpoint{Address: aliceAddr, Source: domain.SourceLAN}, aliceFrame)
	<-bobMgr.Events() // SessionEstablished for alice

	bobMgr.HandleDatagram(domain.PeerEndpoint{Address: carolAddr, Source: domain.SourceLAN}, carolFrame)
	ev := <-bobMgr.Events()
	if _, closed := ev.(domain.SessionClosed); closed {
		t.Fatalf("carol's handshake tore down alice's session instead of coexisting: %+v", ev)
	}
	if _, established := ev.(domain.SessionEstablished); !established {
		t.Fatalf("expected SessionEstablished for carol, got %T", ev)
	}

	snap := bobMgr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected both colliding-connection_id sessions to coexist, got %d session(s)", len(snap))
	}
}

func TestManager_SendWithNoRouteQueuesForLater(t *testing.T) {
	alice := genIdentity(t, "7777777777777777", "alice")
	mgr := New(alice, newFakeContacts(), newFakeQueue(), fakeResolver{}, &capturingSender{}, nil)

	queued, err := mgr.Send("8888888888888888", 1, []byte("later"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !queued {
		t.Fatalf("expected message queued when no route is known")
	}
}
