package domain

import "time"

// QueuedMessage is one plaintext awaiting delivery to a recipient who has
// no established session yet (spec.md §4.8). Queues are per-recipient FIFO,
// persisted so a restart does not lose undelivered mail.
type QueuedMessage struct {
	RecipientFingerprint Fingerprint
	StreamID             StreamID
	Plaintext            []byte
	EnqueuedAt           time.Time
}

// MessageQueue is the durable per-recipient mailbox contract of spec.md §4.8.
type MessageQueue interface {
	// Enqueue appends msg to the recipient's queue. Returns ErrQueueFull if
	// the recipient's queue is already at MaxQueueDepth.
	Enqueue(msg QueuedMessage) error
	// Drain returns and removes, in FIFO order, all messages queued for
	// fingerprint. A delivery failure partway through must re-enqueue the
	// undelivered remainder at the head, preserving order.
	Drain(fingerprint Fingerprint) ([]QueuedMessage, error)
	// Requeue re-inserts msgs at the head of fingerprint's queue, in the
	// order given, used when a drained batch fails to fully deliver.
	Requeue(fingerprint Fingerprint, msgs []QueuedMessage) error
	// Depth reports the current number of messages queued for fingerprint.
	Depth(fingerprint Fingerprint) (int, error)
}
