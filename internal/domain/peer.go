package domain

import (
	"net"
	"time"
)

// EndpointSource records how a PeerEndpoint observation was obtained.
// spec.md §4.4's merging policy ranks lan above relay above nothing; a
// manual entry suppresses both.
type EndpointSource int

const (
	SourceLAN EndpointSource = iota
	SourceRelay
	SourceManual
)

func (s EndpointSource) String() string {
	switch s {
	case SourceLAN:
		return "lan"
	case SourceRelay:
		return "relay"
	case SourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

// PeerEndpoint is an ephemeral, superseded-by-newer-observation transport
// address for a fingerprint (spec.md §3).
type PeerEndpoint struct {
	Fingerprint Fingerprint
	StaticPub   X25519Public
	DisplayName string
	Address     *net.UDPAddr
	LastSeen    time.Time
	Source      EndpointSource
}

// Supersedes reports whether a fresh observation `next` should replace the
// currently held endpoint `cur` for the same fingerprint, per the LAN>relay
// preference and recency rule of spec.md §4.4.
func Supersedes(cur, next PeerEndpoint) bool {
	if cur.Fingerprint == "" {
		return true
	}
	if next.Source == SourceManual {
		return true
	}
	if cur.Source == SourceManual {
		return false
	}
	if cur.Source == SourceLAN && next.Source == SourceRelay {
		// LAN suppresses a same-window relay entry (cheaper transport).
		return next.LastSeen.Sub(cur.LastSeen) > 30*time.Second
	}
	return !next.LastSeen.Before(cur.LastSeen)
}

// SameObservation reports whether next carries no new information over cur:
// same fingerprint, same source, same address and static key, just a later
// LastSeen. mDNS re-broadcasts and the relay's LIST poll both re-report an
// unchanged peer on every cycle, and each such report Supersedes(cur, next)
// on recency alone; a caller that also checks SameObservation before
// treating an observation as a change can refresh LastSeen without
// re-announcing a peer that hasn't actually moved.
func SameObservation(cur, next PeerEndpoint) bool {
	if cur.Fingerprint == "" || cur.Fingerprint != next.Fingerprint {
		return false
	}
	if cur.Source != next.Source || cur.StaticPub != next.StaticPub {
		return false
	}
	return udpAddrString(cur.Address) == udpAddrString(next.Address)
}

func udpAddrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
