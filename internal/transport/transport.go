// Package transport owns the UDP socket of the peer-to-peer protocol
// (spec.md §4.3); the relay client dials a socket of its own and does not
// use this one. It knows nothing about
// sessions or handshakes; it hands raw datagrams to whatever dispatcher is
// registered and enforces the MTU policy on the way out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"dnieim/internal/domain"
)

// MaxPayloadBytes is the MTU policy of spec.md §4.3: application payloads
// exceeding 60 KB after encryption are rejected outright, no fragmentation.
const MaxPayloadBytes = 60 * 1024

// ErrMessageTooLarge is returned by SendTo when frame exceeds MaxPayloadBytes.
var ErrMessageTooLarge = domain.ErrMessageTooLarge

// Dispatcher receives every datagram the socket reads, tagged with its
// source address. The Session Manager is reached through the Dispatcher
// passed to UDP.Run; relay traffic arrives on the relay client's own socket
// and never passes through a Dispatcher.
type Dispatcher interface {
	HandleDatagram(from *net.UDPAddr, payload []byte)
}

// UDP is the concrete Transport of spec.md §4.3: a single bound socket.
type UDP struct {
	conn *net.UDPConn
	log  *slog.Logger
}

// Listen binds a UDP socket on addr ("" host means all interfaces).
func Listen(addr string, log *slog.Logger) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w: %w", addr, domain.ErrBindFailed, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &UDP{conn: conn, log: log}, nil
}

// LocalAddr returns the bound local address.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// SendTo writes frame to addr as a single datagram.
func (u *UDP) SendTo(addr *net.UDPAddr, frame []byte) error {
	if len(frame) > MaxPayloadBytes {
		return ErrMessageTooLarge
	}
	_, err := u.conn.WriteToUDP(frame, addr)
	return err
}

// Close releases the socket.
func (u *UDP) Close() error { return u.conn.Close() }

// Run reads datagrams until ctx is cancelled or the socket closes,
// delivering each to dispatcher. Errors from a closed listener during
// shutdown are swallowed; anything else is returned.
func (u *UDP) Run(ctx context.Context, dispatcher Dispatcher) error {
	buf := make([]byte, MaxPayloadBytes+4096)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.log.Warn("transport: read error", "error", err)
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		dispatcher.HandleDatagram(from, payload)
	}
}

var _ domain.Transport = (*UDP)(nil)
