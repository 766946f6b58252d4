package domain

// DiscoveryFabric merges observations from every active discovery backend
// (LAN mDNS, untrusted relay, manual entry) into one stream, applying the
// precedence and suppression policy of spec.md §4.4.
type DiscoveryFabric interface {
	// Observations returns the channel of merged PeerDiscovered/PeerLost
	// events. Closed when the fabric is stopped.
	Observations() <-chan Event
	// AddManual injects a manually configured endpoint, which suppresses
	// both LAN and relay observations for the same fingerprint.
	AddManual(fingerprint Fingerprint, endpoint PeerEndpoint) error
	// Start begins running the fabric's backends.
	Start() error
	// Stop halts all backends and closes the observation channel.
	Stop() error
}

// RelayClient is the untrusted relay's peer-facing contract (spec.md §4.4,
// opcodes REGISTER/REGISTER_ACK/RELAY/LIST/LIST_RESP).
type RelayClient interface {
	// Register advertises this peer's fingerprint and public endpoint to
	// the relay. Must be retried with backoff on failure per spec.md §7.
	Register(fingerprint Fingerprint) error
	// List requests the relay's current directory of registered peers.
	List() ([]PeerEndpoint, error)
	// Close stops any background registration/heartbeat activity.
	Close() error
}
