// Package lan advertises this peer on the local network via mDNS and
// browses for others, satisfying the LAN half of spec.md §4.4's Discovery
// Fabric.
package lan

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"dnieim/internal/domain"
)

const (
	serviceType   = "_dni-im._udp"
	serviceDomain = "local."

	// observationTTL is how long a peer's last LAN advertisement is
	// trusted before this backend reports it lost. mDNS re-announces are
	// frequent enough that three missed sweeps is a comfortable margin.
	observationTTL = 90 * time.Second
	sweepInterval  = 30 * time.Second
)

// Backend advertises identity on the LAN and browses for peers advertising
// the same service, emitting domain.PeerDiscovered/PeerLost.
type Backend struct {
	identity domain.Identity
	port     int
	log      *slog.Logger

	server *zeroconf.Server
	cancel context.CancelFunc

	mu     sync.Mutex
	seen   map[domain.Fingerprint]time.Time
	events chan domain.Event
}

// New returns a Backend that will advertise identity's fingerprint on port
// once Start is called.
func New(identity domain.Identity, port int, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		identity: identity,
		port:     port,
		log:      log,
		seen:     make(map[domain.Fingerprint]time.Time),
		events:   make(chan domain.Event, 64),
	}
}

// Observations returns the channel of PeerDiscovered/PeerLost events.
func (b *Backend) Observations() <-chan domain.Event { return b.events }

// Start registers this peer's mDNS advertisement and begins browsing.
func (b *Backend) Start() error {
	txt := []string{
		"fingerprint=" + string(b.identity.Fingerprint),
		"static_pub=" + base64.StdEncoding.EncodeToString(b.identity.StaticPublic.Slice()),
		"name=" + b.identity.DisplayName,
		"port=" + strconv.Itoa(b.port),
	}
	server, err := zeroconf.Register(string(b.identity.Fingerprint), serviceType, serviceDomain, b.port, txt, nil)
	if err != nil {
		return fmt.Errorf("lan: register: %w", err)
	}
	b.server = server

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return fmt.Errorf("lan: new resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go b.consume(ctx, entries)
	go b.sweep(ctx)
	if err := resolver.Browse(ctx, serviceType, serviceDomain, entries); err != nil {
		cancel()
		server.Shutdown()
		return fmt.Errorf("lan: browse: %w", err)
	}
	return nil
}

// Stop halts advertising and browsing and closes the observation channel.
func (b *Backend) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
	close(b.events)
	return nil
}

func (b *Backend) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			b.handleEntry(entry)
		}
	}
}

func (b *Backend) handleEntry(entry *zeroconf.ServiceEntry) {
	fp, pub, name, port, ok := parseTXT(entry.Text)
	if !ok || fp == b.identity.Fingerprint {
		return
	}
	addr := resolveAddr(entry, port)
	if addr == nil {
		return
	}
	ep := domain.PeerEndpoint{
		Fingerprint: fp,
		StaticPub:   pub,
		DisplayName: name,
		Address:     addr,
		LastSeen:    time.Now(),
		Source:      domain.SourceLAN,
	}

	b.mu.Lock()
	b.seen[fp] = ep.LastSeen
	b.mu.Unlock()

	b.emit(domain.PeerDiscovered{Fingerprint: fp, Endpoint: ep})
}

// resolveAddr prefers the TXT-advertised port (spec.md §6's literal wire
// contract carries port as a TXT field) over the SRV record's port, falling
// back to the SRV port if the advertisement omitted or malformed its own.
func resolveAddr(entry *zeroconf.ServiceEntry, txtPort int) *net.UDPAddr {
	port := entry.Port
	if txtPort > 0 {
		port = txtPort
	}
	if len(entry.AddrIPv4) > 0 {
		return &net.UDPAddr{IP: entry.AddrIPv4[0], Port: port}
	}
	if len(entry.AddrIPv6) > 0 {
		return &net.UDPAddr{IP: entry.AddrIPv6[0], Port: port}
	}
	return nil
}

// parseTXT recovers the fingerprint, static key, display name and port a
// peer advertised (spec.md §6: TXT keys `fingerprint`, `static_pub`
// (base64), `name`, `port`). fingerprint and static_pub must be present and
// well-formed for ok to be true; a malformed advertisement is silently
// ignored rather than treated as a protocol error, since mDNS traffic is
// unauthenticated background noise until the handshake actually
// authenticates it.
func parseTXT(txt []string) (fp domain.Fingerprint, pub domain.X25519Public, name string, port int, ok bool) {
	var haveFP, havePub bool
	for _, kv := range txt {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		switch k {
		case "fingerprint":
			fp = domain.Fingerprint(v)
			haveFP = fp.Valid()
		case "static_pub":
			raw, err := base64.StdEncoding.DecodeString(v)
			if err == nil && len(raw) == 32 {
				pub = domain.MustX25519Public(raw)
				havePub = true
			}
		case "name":
			name = v
		case "port":
			if n, err := strconv.Atoi(v); err == nil {
				port = n
			}
		}
	}
	return fp, pub, name, port, haveFP && havePub
}

func (b *Backend) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

func (b *Backend) sweepOnce() {
	now := time.Now()
	var lost []domain.Fingerprint
	b.mu.Lock()
	for fp, last := range b.seen {
		if now.Sub(last) > observationTTL {
			delete(b.seen, fp)
			lost = append(lost, fp)
		}
	}
	b.mu.Unlock()
	for _, fp := range lost {
		b.emit(domain.PeerLost{Fingerprint: fp})
	}
}

func (b *Backend) emit(ev domain.Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Warn("lan: observation channel full, dropping event")
	}
}
