// Package discovery merges observations from every active discovery
// backend (LAN mDNS, untrusted relay, manual entries) into one stream,
// applying the precedence and suppression policy of spec.md §4.4.
package discovery

import (
	"log/slog"
	"sync"
	"time"

	"dnieim/internal/domain"
)

// Backend is the shape both internal/discovery/lan.Backend and
// internal/discovery/relaynet.Client provide: a stream of raw
// observations this Fabric merges under its own precedence policy.
type Backend interface {
	Observations() <-chan domain.Event
	Start() error
	Stop() error
}

// Fabric is the domain.DiscoveryFabric implementation.
type Fabric struct {
	backends []Backend
	log      *slog.Logger

	mu      sync.Mutex
	current map[domain.Fingerprint]domain.PeerEndpoint
	manual  map[domain.Fingerprint]bool

	out    chan domain.Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Fabric merging the given backends. Order does not matter;
// precedence is decided per-observation by domain.Supersedes.
func New(backends []Backend, log *slog.Logger) *Fabric {
	if log == nil {
		log = slog.Default()
	}
	return &Fabric{
		backends: backends,
		log:      log,
		current:  make(map[domain.Fingerprint]domain.PeerEndpoint),
		manual:   make(map[domain.Fingerprint]bool),
		out:      make(chan domain.Event, 128),
		stopCh:   make(chan struct{}),
	}
}

// Observations returns the merged event stream.
func (f *Fabric) Observations() <-chan domain.Event { return f.out }

// Start launches every backend and begins merging their observations.
func (f *Fabric) Start() error {
	for _, b := range f.backends {
		if err := b.Start(); err != nil {
			return err
		}
	}
	for _, b := range f.backends {
		f.wg.Add(1)
		go f.pump(b)
	}
	return nil
}

// Stop halts every backend, drains the merge goroutines, and closes the
// merged event channel.
func (f *Fabric) Stop() error {
	close(f.stopCh)
	for _, b := range f.backends {
		if err := b.Stop(); err != nil {
			f.log.Warn("discovery: backend stop failed", "error", err)
		}
	}
	f.wg.Wait()
	close(f.out)
	return nil
}

// AddManual injects a manually configured endpoint. A manual entry
// suppresses both LAN and relay observations for the same fingerprint,
// per spec.md §4.4, and is never itself expired by a PeerLost from another
// backend.
func (f *Fabric) AddManual(fingerprint domain.Fingerprint, endpoint domain.PeerEndpoint) error {
	endpoint.Fingerprint = fingerprint
	endpoint.Source = domain.SourceManual
	endpoint.LastSeen = time.Now()

	f.mu.Lock()
	f.manual[fingerprint] = true
	f.current[fingerprint] = endpoint
	f.mu.Unlock()

	f.emit(domain.PeerDiscovered{Fingerprint: fingerprint, Endpoint: endpoint})
	return nil
}

// Resolve returns the currently preferred endpoint for fingerprint. This
// also satisfies internal/session.EndpointResolver, so a *Fabric can be
// handed directly to session.New.
func (f *Fabric) Resolve(fingerprint domain.Fingerprint) (domain.PeerEndpoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.current[fingerprint]
	return ep, ok
}

// Snapshot returns every currently known endpoint. Not part of
// domain.DiscoveryFabric — a CLI-only convenience for `dnieim peers`,
// which has no use for the incremental Observations stream.
func (f *Fabric) Snapshot() []domain.PeerEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PeerEndpoint, 0, len(f.current))
	for _, ep := range f.current {
		out = append(out, ep)
	}
	return out
}

func (f *Fabric) pump(b Backend) {
	defer f.wg.Done()
	for {
		select {
		case <-f.stopCh:
			return
		case ev, ok := <-b.Observations():
			if !ok {
				return
			}
			f.handle(ev)
		}
	}
}

func (f *Fabric) handle(ev domain.Event) {
	switch e := ev.(type) {
	case domain.PeerDiscovered:
		f.mu.Lock()
		if f.manual[e.Fingerprint] {
			f.mu.Unlock()
			return
		}
		cur := f.current[e.Fingerprint]
		if !domain.Supersedes(cur, e.Endpoint) {
			f.mu.Unlock()
			return
		}
		if domain.SameObservation(cur, e.Endpoint) {
			// Same peer, same address, just a fresher timestamp from a
			// repeat mDNS entry or relay LIST poll: keep LastSeen current
			// so the entry doesn't look stale, but don't re-announce a
			// peer nothing changed about.
			cur.LastSeen = e.Endpoint.LastSeen
			f.current[e.Fingerprint] = cur
			f.mu.Unlock()
			return
		}
		f.current[e.Fingerprint] = e.Endpoint
		f.mu.Unlock()
		f.emit(domain.PeerDiscovered{Fingerprint: e.Fingerprint, Endpoint: e.Endpoint})
	case domain.PeerLost:
		f.mu.Lock()
		if f.manual[e.Fingerprint] {
			f.mu.Unlock()
			return
		}
		delete(f.current, e.Fingerprint)
		f.mu.Unlock()
		f.emit(e)
	default:
		f.emit(ev)
	}
}

func (f *Fabric) emit(ev domain.Event) {
	select {
	case f.out <- ev:
	case <-f.stopCh:
	}
}

var _ domain.DiscoveryFabric = (*Fabric)(nil)
