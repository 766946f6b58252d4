// Package relaynet is the client side of the untrusted relay protocol of
// spec.md §4.4: registration with backoff, periodic directory polling, and
// forwarding opaque peer-to-peer payloads through RELAY when a peer isn't
// reachable directly.
package relaynet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"dnieim/internal/domain"
	"dnieim/internal/wire/relaywire"
)

const (
	heartbeatInterval = 60 * time.Second
	listPollInterval  = 30 * time.Second
	initialBackoff    = 1 * time.Second
	maxBackoff        = 60 * time.Second
	readBufferSize    = 64 * 1024
)

// Delivery is one opaque peer-to-peer payload the relay forwarded to us,
// destined for our own fingerprint.
type Delivery struct {
	Payload []byte
}

// Client holds a dedicated UDP socket to the relay, distinct from the
// peer-to-peer transport socket, since the relay speaks a different wire
// protocol (internal/wire/relaywire) entirely.
type Client struct {
	addr *net.UDPAddr
	conn *net.UDPConn

	identity domain.Identity
	log      *slog.Logger

	events   chan domain.Event
	incoming chan Delivery

	mu       sync.Mutex
	lastList []domain.PeerEndpoint

	cancel context.CancelFunc
}

// Dial opens the relay socket. Registration and polling do not start until
// Start is called.
func Dial(relayAddr string, identity domain.Identity, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, fmt.Errorf("relaynet: resolve %q: %w", relayAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("relaynet: dial %q: %w", relayAddr, err)
	}
	return &Client{
		addr:     udpAddr,
		conn:     conn,
		identity: identity,
		log:      log,
		events:   make(chan domain.Event, 64),
		incoming: make(chan Delivery, 64),
	}, nil
}

// Observations returns PeerDiscovered events derived from LIST_RESP
// snapshots, so the Discovery Fabric can merge relay-known peers alongside
// LAN ones.
func (c *Client) Observations() <-chan domain.Event { return c.events }

// Incoming returns opaque peer-to-peer payloads the relay forwarded to us.
func (c *Client) Incoming() <-chan Delivery { return c.incoming }

// Start launches the read loop, the register-with-backoff/heartbeat loop,
// and the periodic LIST poll.
func (c *Client) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readLoop(ctx)
	go c.registerLoop(ctx)
	go c.listLoop(ctx)
	return nil
}

// Stop halts all background activity and closes the socket.
func (c *Client) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.conn.Close()
	close(c.events)
	return err
}

// Close satisfies domain.RelayClient.
func (c *Client) Close() error { return c.Stop() }

// Register sends a single REGISTER for fingerprint. registerLoop is what
// retries this with exponential backoff and re-sends it as a heartbeat.
func (c *Client) Register(fingerprint domain.Fingerprint) error {
	msg, err := relaywire.EncodeRegister(relaywire.Register{
		Fingerprint: fingerprint,
		StaticPub:   c.identity.StaticPublic,
		DisplayName: c.identity.DisplayName,
	})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(msg)
	return err
}

func (c *Client) registerLoop(ctx context.Context) {
	backoff := initialBackoff
	for {
		if err := c.Register(c.identity.Fingerprint); err != nil {
			c.log.Warn("relaynet: register failed, backing off", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff
		select {
		case <-ctx.Done():
			return
		case <-time.After(heartbeatInterval):
		}
	}
}

// List requests a fresh directory snapshot and returns the most recently
// received one; the relay protocol is fire-and-forget UDP, so this reads
// the cache populated by the last LIST_RESP rather than blocking for a
// synchronous reply.
func (c *Client) List() ([]domain.PeerEndpoint, error) {
	if _, err := c.conn.Write(relaywire.EncodeList()); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PeerEndpoint{}, c.lastList...), nil
}

func (c *Client) listLoop(ctx context.Context) {
	ticker := time.NewTicker(listPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.conn.Write(relaywire.EncodeList()); err != nil {
				c.log.Warn("relaynet: list request failed", "error", err)
			}
		}
	}
}

// SendRelay wraps payload in a RELAY message addressed to dest and writes
// it to the relay socket. Used by the composition root's PacketSender when
// routing to an endpoint whose Source is domain.SourceRelay.
func (c *Client) SendRelay(dest domain.Fingerprint, payload []byte) error {
	msg, err := relaywire.EncodeRelay(relaywire.Relay{DestFingerprint: dest, OpaquePayload: payload})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(msg)
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.log.Warn("relaynet: read error", "error", err)
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(buf []byte) {
	op, err := relaywire.PeekOpcode(buf)
	if err != nil {
		return
	}
	switch op {
	case relaywire.OpRegisterAck:
		// Registration confirmed; nothing to act on.
	case relaywire.OpListResp:
		resp, err := relaywire.DecodeListResp(buf)
		if err != nil {
			c.log.Debug("relaynet: malformed LIST_RESP", "error", err)
			return
		}
		c.handleListResp(resp)
	case relaywire.OpRelay:
		rel, err := relaywire.DecodeRelay(buf)
		if err != nil {
			c.log.Debug("relaynet: malformed RELAY", "error", err)
			return
		}
		select {
		case c.incoming <- Delivery{Payload: rel.OpaquePayload}:
		default:
			c.log.Warn("relaynet: incoming backlog full, dropping relayed packet")
		}
	}
}

func (c *Client) handleListResp(resp relaywire.ListResp) {
	now := time.Now()
	endpoints := make([]domain.PeerEndpoint, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		if e.Fingerprint == c.identity.Fingerprint {
			continue
		}
		// The relay is a dumb forwarder with no notion of the peer's real
		// address, so relay-sourced endpoints are addressed at the relay
		// itself; the PacketSender recognizes Source == SourceRelay and
		// wraps outbound frames in RELAY rather than writing directly to
		// this address.
		ep := domain.PeerEndpoint{
			Fingerprint: e.Fingerprint,
			StaticPub:   e.StaticPub,
			DisplayName: e.DisplayName,
			Address:     c.addr,
			LastSeen:    now,
			Source:      domain.SourceRelay,
		}
		endpoints = append(endpoints, ep)
		c.emit(domain.PeerDiscovered{Fingerprint: e.Fingerprint, Endpoint: ep})
	}
	c.mu.Lock()
	c.lastList = endpoints
	c.mu.Unlock()
}

func (c *Client) emit(ev domain.Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("relaynet: observation channel full, dropping event")
	}
}

var _ domain.RelayClient = (*Client)(nil)
