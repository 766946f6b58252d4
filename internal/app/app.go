// Package app is the composition root: it wires the stores, the identity
// bootstrapper, the transport socket, the discovery backends and the
// Session Manager into one supervised process, the way
// wbd2023-UNSW-COMP6841-Ciphera/internal/app wires its own services behind
// a single Wire.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"dnieim/internal/config"
	"dnieim/internal/discovery"
	"dnieim/internal/discovery/lan"
	"dnieim/internal/discovery/relaynet"
	"dnieim/internal/domain"
	"dnieim/internal/identity"
	"dnieim/internal/session"
	"dnieim/internal/store"
	"dnieim/internal/transport"
)

// App holds every long-lived component of a running dnieim node, ready to
// be driven by Run.
type App struct {
	cfg config.Config
	log *slog.Logger

	Identity    domain.Identity
	Contacts    *store.ContactBook
	Queue       *store.Queue
	ManualPeers *store.ManualPeers

	Transport *transport.UDP
	Relay     *relaynet.Client
	Fabric    *discovery.Fabric
	Sessions  *session.Manager
}

// New builds the full dependency graph from cfg. passphrase unlocks the
// local identity store, creating it via idProvider on first run.
func New(cfg config.Config, passphrase string, idProvider domain.IdentityProvider, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("app: create home %q: %w: %w", cfg.Home, domain.ErrStorageFailed, err)
	}

	idStore := store.NewIdentityStore(cfg.Home)
	id, err := identity.New(idStore, idProvider).LoadOrCreate(passphrase)
	if err != nil {
		return nil, fmt.Errorf("app: load identity: %w", err)
	}

	contacts := store.NewContactBook(cfg.Home)
	queue := store.NewQueue(cfg.Home)
	manualPeers := store.NewManualPeers(cfg.Home)

	udp, err := transport.Listen(fmt.Sprintf(":%d", cfg.UDPPort), log.With("component", "transport"))
	if err != nil {
		return nil, fmt.Errorf("app: bind transport: %w", err)
	}

	var relayClient *relaynet.Client
	if addr := cfg.RelayAddr(); addr != "" {
		relayClient, err = relaynet.Dial(addr, id, log.With("component", "relaynet"))
		if err != nil {
			udp.Close()
			return nil, fmt.Errorf("app: dial relay %q: %w", addr, err)
		}
	}

	var backends []discovery.Backend
	if cfg.UseLANDiscovery {
		backends = append(backends, lan.New(id, cfg.UDPPort, log.With("component", "lan")))
	}
	if relayClient != nil {
		backends = append(backends, relayClient)
	}
	fabric := discovery.New(backends, log.With("component", "discovery"))

	sender := &packetSender{transport: udp, relay: relayClient}
	sessions := session.New(id, contacts, queue, fabric, sender, log.With("component", "session"))

	return &App{
		cfg:         cfg,
		log:         log,
		Identity:    id,
		Contacts:    contacts,
		Queue:       queue,
		ManualPeers: manualPeers,
		Transport:   udp,
		Relay:       relayClient,
		Fabric:      fabric,
		Sessions:    sessions,
	}, nil
}

// loadManualPeers registers every persisted manual peer with the Discovery
// Fabric. Called once the fabric is running, since AddManual both records
// the endpoint and emits a PeerDiscovered event a listener may be waiting
// on.
func (a *App) loadManualPeers() error {
	peers, err := a.ManualPeers.List()
	if err != nil {
		return fmt.Errorf("app: load manual peers: %w", err)
	}
	for _, p := range peers {
		addr, err := net.ResolveUDPAddr("udp", p.Address)
		if err != nil {
			a.log.Warn("app: skipping manual peer with unresolvable address", "fingerprint", p.Fingerprint, "address", p.Address, "error", err)
			continue
		}
		endpoint := domain.PeerEndpoint{
			StaticPub:   p.StaticPub,
			DisplayName: p.DisplayName,
			Address:     addr,
		}
		if err := a.Fabric.AddManual(p.Fingerprint, endpoint); err != nil {
			a.log.Warn("app: add manual peer failed", "fingerprint", p.Fingerprint, "error", err)
		}
	}
	return nil
}

// packetSender routes an outbound handshake or data frame either directly
// over the UDP transport or through the relay, based on the endpoint's
// Source — the same overload of EndpointSource documented in
// internal/session for inbound reply-routing.
type packetSender struct {
	transport *transport.UDP
	relay     *relaynet.Client
}

func (s *packetSender) Send(endpoint domain.PeerEndpoint, frame []byte) error {
	if endpoint.Source == domain.SourceRelay {
		if s.relay == nil {
			return fmt.Errorf("app: endpoint requires the relay but none is configured")
		}
		return s.relay.SendRelay(endpoint.Fingerprint, frame)
	}
	if endpoint.Address == nil {
		return fmt.Errorf("app: endpoint %s has no direct address", endpoint.Fingerprint)
	}
	return s.transport.SendTo(endpoint.Address, frame)
}

var _ session.PacketSender = (*packetSender)(nil)

// Run starts every background task — the transport read loop, the
// discovery fabric, the Session Manager's sweep loop, and, if configured,
// the relay client and its delivery bridge — and blocks until ctx is
// cancelled or one of them fails. Shutdown errors from the components that
// don't participate in the errgroup (Fabric.Stop, Relay.Stop) are
// aggregated onto the returned error rather than dropped.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var shutdownErr error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		shutdownErr = multierr.Append(shutdownErr, err)
		mu.Unlock()
	}

	g.Go(func() error {
		return a.Transport.Run(gctx, session.NewDirectDispatcher(a.Sessions))
	})
	g.Go(func() error {
		return a.Sessions.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Transport.Close()
	})

	if err := a.Fabric.Start(); err != nil {
		return fmt.Errorf("app: start discovery fabric: %w", err)
	}
	if err := a.loadManualPeers(); err != nil {
		a.log.Warn("app: manual peers not loaded", "error", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		record(a.Fabric.Stop())
		return nil
	})

	if a.Relay != nil {
		if err := a.Relay.Start(); err != nil {
			return fmt.Errorf("app: start relay client: %w", err)
		}
		g.Go(func() error { return a.bridgeRelayDeliveries(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			record(a.Relay.Stop())
			return nil
		})
	}

	runErr := g.Wait()
	return multierr.Append(runErr, shutdownErr)
}

// bridgeRelayDeliveries feeds datagrams the relay forwarded to us into the
// Session Manager exactly as if they had arrived directly, tagged with a
// relay-sourced origin so a HANDSHAKE_RESP or reply routes back through
// the relay rather than a direct UDP address that was never learned.
func (a *App) bridgeRelayDeliveries(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-a.Relay.Incoming():
			if !ok {
				return nil
			}
			a.Sessions.HandleDatagram(domain.PeerEndpoint{Source: domain.SourceRelay}, d.Payload)
		}
	}
}
