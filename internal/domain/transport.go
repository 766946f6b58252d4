package domain

import "net"

// Transport is the UDP packet plane the Session Manager and Discovery
// Fabric send and receive raw frames over (spec.md §4.2, §4.3). It carries
// peer-to-peer traffic only; the relay client talks to the relay over a
// socket of its own.
type Transport interface {
	// SendTo writes frame to addr as a single UDP datagram. Returns
	// ErrMessageTooLarge if frame exceeds the transport's MTU policy.
	SendTo(addr *net.UDPAddr, frame []byte) error
	// LocalAddr returns the address the transport is bound to.
	LocalAddr() *net.UDPAddr
	// Close releases the underlying socket.
	Close() error
}

// InboundFrame pairs a raw datagram with the address it arrived from.
type InboundFrame struct {
	From    *net.UDPAddr
	Payload []byte
}
