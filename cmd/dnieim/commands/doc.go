// Package commands defines the dnieim CLI.
//
// Commands
//
//   - init          Bootstrap the local identity and print its fingerprint
//   - fingerprint   Print the identity fingerprint
//   - run           Start transport, discovery and session tasks and stay resident
//   - send          Encrypt and send a message, waiting briefly for delivery
//   - peers         Listen briefly and print every currently reachable peer
//   - contacts      List, rename or delete pinned contacts
//   - add-peer      Persist a manually configured peer address
//
// # Implementation
//
// The root command loads layered configuration (flags, environment, config
// file) before any subcommand runs, and each subcommand that touches the
// network builds its own *app.App composition root rather than sharing one
// resident process — matching how a peer with no long-running daemon still
// needs a durable Message Queue and Contact Book to make sense across
// invocations.
package commands
