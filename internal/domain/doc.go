// Package domain defines the core data models and interfaces shared across
// the peer-to-peer messenger core: identity, contacts, peer endpoints,
// sessions, streams and the offline queue. It contains plain types and
// contracts only; no I/O.
package domain
