package discovery

import (
	"net"
	"testing"
	"time"

	"dnieim/internal/domain"
)

type fakeBackend struct {
	events chan domain.Event
}

func newFakeBackend() *fakeBackend { return &fakeBackend{events: make(chan domain.Event, 8)} }

func (b *fakeBackend) Observations() <-chan domain.Event { return b.events }
func (b *fakeBackend) Start() error                      { return nil }
func (b *fakeBackend) Stop() error                        { close(b.events); return nil }

func waitEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for merged event")
		return nil
	}
}

func TestFabric_LANSuppressesRelayForThirtySeconds(t *testing.T) {
	lan := newFakeBackend()
	relay := newFakeBackend()
	f := New([]Backend{lan, relay}, nil)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	fp := domain.Fingerprint("aaaaaaaaaaaaaaaa")
	now := time.Now()
	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, LastSeen: now, Source: domain.SourceLAN}}
	ev := waitEvent(t, f.Observations())
	pd, ok := ev.(domain.PeerDiscovered)
	if !ok || pd.Endpoint.Source != domain.SourceLAN {
		t.Fatalf("expected LAN PeerDiscovered, got %+v", ev)
	}

	relay.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, LastSeen: now.Add(5 * time.Second), Source: domain.SourceRelay}}
	select {
	case ev := <-f.Observations():
		t.Fatalf("relay observation should be suppressed within 30s of LAN sighting, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	if ep, ok := f.Resolve(fp); !ok || ep.Source != domain.SourceLAN {
		t.Fatalf("expected LAN endpoint to remain current, got %+v ok=%v", ep, ok)
	}
}

func TestFabric_ManualSuppressesLANAndRelay(t *testing.T) {
	lan := newFakeBackend()
	f := New([]Backend{lan}, nil)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	fp := domain.Fingerprint("bbbbbbbbbbbbbbbb")
	if err := f.AddManual(fp, domain.PeerEndpoint{DisplayName: "bob"}); err != nil {
		t.Fatalf("AddManual: %v", err)
	}
	waitEvent(t, f.Observations()) // the manual PeerDiscovered itself

	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, LastSeen: time.Now(), Source: domain.SourceLAN}}
	select {
	case ev := <-f.Observations():
		t.Fatalf("LAN observation should be suppressed by a manual entry, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	if ep, ok := f.Resolve(fp); !ok || ep.Source != domain.SourceManual {
		t.Fatalf("expected manual endpoint to remain current, got %+v ok=%v", ep, ok)
	}
}

func TestFabric_RepeatedSameSourceObservationEmitsOnce(t *testing.T) {
	lan := newFakeBackend()
	f := New([]Backend{lan}, nil)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	fp := domain.Fingerprint("dddddddddddddddd")
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.7"), Port: 9000}
	now := time.Now()

	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, Address: addr, LastSeen: now, Source: domain.SourceLAN}}
	waitEvent(t, f.Observations())

	// A repeat mDNS entry for the same peer at the same address, just later:
	// this must update LastSeen without producing a second PeerDiscovered.
	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, Address: addr, LastSeen: now.Add(10 * time.Second), Source: domain.SourceLAN}}
	select {
	case ev := <-f.Observations():
		t.Fatalf("unchanged repeat observation should not re-emit PeerDiscovered, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}

	ep, ok := f.Resolve(fp)
	if !ok {
		t.Fatal("expected endpoint to remain resolvable")
	}
	if !ep.LastSeen.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("expected LastSeen refreshed to the later observation, got %v", ep.LastSeen)
	}

	// A genuine address change from the same source must still re-emit.
	newAddr := &net.UDPAddr{IP: net.ParseIP("192.168.1.8"), Port: 9000}
	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, Address: newAddr, LastSeen: now.Add(20 * time.Second), Source: domain.SourceLAN}}
	ev := waitEvent(t, f.Observations())
	pd, ok := ev.(domain.PeerDiscovered)
	if !ok || pd.Endpoint.Address.String() != newAddr.String() {
		t.Fatalf("expected a fresh PeerDiscovered for the changed address, got %+v", ev)
	}
}

func TestFabric_PeerLostRemovesCurrentEndpoint(t *testing.T) {
	lan := newFakeBackend()
	f := New([]Backend{lan}, nil)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	fp := domain.Fingerprint("cccccccccccccccc")
	lan.events <- domain.PeerDiscovered{Fingerprint: fp, Endpoint: domain.PeerEndpoint{Fingerprint: fp, LastSeen: time.Now(), Source: domain.SourceLAN}}
	waitEvent(t, f.Observations())

	lan.events <- domain.PeerLost{Fingerprint: fp}
	ev := waitEvent(t, f.Observations())
	if _, ok := ev.(domain.PeerLost); !ok {
		t.Fatalf("expected PeerLost, got %T", ev)
	}
	if _, ok := f.Resolve(fp); ok {
		t.Fatalf("expected endpoint to be gone after PeerLost")
	}
}
