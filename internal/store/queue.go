package store

import (
	"path/filepath"
	"sync"

	"dnieim/internal/domain"
)

const queueFile = "queue.json"

// MaxQueueDepth bounds the per-recipient offline queue. Not named by
// spec.md's distillation directly but present in original_source's
// message_queue.py as a hard cap; adopted here to bound disk growth from a
// permanently offline contact.
const MaxQueueDepth = 500

// Queue is a file-backed domain.MessageQueue: one JSON file holding a
// fingerprint-keyed map of FIFO slices, atomically rewritten in full on
// every mutation (see io.go). Adequate for the message volumes this
// system queues for offline peers; a WAL-per-recipient design would only
// pay off at a scale this system doesn't target.
type Queue struct {
	dir string
	mu  sync.Mutex
}

// NewQueue returns a Queue rooted at dir.
func NewQueue(dir string) *Queue {
	return &Queue{dir: dir}
}

func (q *Queue) path() string { return filepath.Join(q.dir, queueFile) }

func (q *Queue) load() (map[string][]domain.QueuedMessage, error) {
	m := make(map[string][]domain.QueuedMessage)
	if err := readJSON(q.path(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (q *Queue) save(m map[string][]domain.QueuedMessage) error {
	return writeJSON(q.path(), m, 0o600)
}

// Enqueue appends msg to the recipient's queue, rejecting once the queue
// is at MaxQueueDepth.
func (q *Queue) Enqueue(msg domain.QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return err
	}
	key := string(msg.RecipientFingerprint)
	if len(m[key]) >= MaxQueueDepth {
		return domain.ErrQueueFull
	}
	m[key] = append(m[key], msg)
	return q.save(m)
}

// Drain returns and removes, in FIFO order, all messages queued for
// fingerprint.
func (q *Queue) Drain(fingerprint domain.Fingerprint) ([]domain.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return nil, err
	}
	key := string(fingerprint)
	msgs := m[key]
	delete(m, key)
	if err := q.save(m); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Requeue re-inserts msgs at the head of fingerprint's queue, preserving
// their relative order, for a batch that only partially delivered.
func (q *Queue) Requeue(fingerprint domain.Fingerprint, msgs []domain.QueuedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return err
	}
	key := string(fingerprint)
	m[key] = append(append([]domain.QueuedMessage{}, msgs...), m[key]...)
	return q.save(m)
}

// Depth reports the current number of messages queued for fingerprint.
func (q *Queue) Depth(fingerprint domain.Fingerprint) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(m[string(fingerprint)]), nil
}

var _ domain.MessageQueue = (*Queue)(nil)
