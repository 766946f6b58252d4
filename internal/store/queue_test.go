package store_test

import (
	"testing"

	"dnieim/internal/domain"
	"dnieim/internal/store"
)

func TestQueue_EnqueueDrainFIFO(t *testing.T) {
	q := store.NewQueue(t.TempDir())
	fp := domain.Fingerprint("cccccccccccccccc")

	for i := 0; i < 3; i++ {
		msg := domain.QueuedMessage{RecipientFingerprint: fp, Plaintext: []byte{byte(i)}}
		if err := q.Enqueue(msg); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	depth, err := q.Depth(fp)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("expected depth 3, got %d", depth)
	}

	msgs, err := q.Drain(fp)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 drained messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Plaintext[0] != byte(i) {
			t.Fatalf("expected FIFO order, message %d had plaintext %v", i, m.Plaintext)
		}
	}

	if depth, err := q.Depth(fp); err != nil || depth != 0 {
		t.Fatalf("expected depth 0 after Drain, got %d err=%v", depth, err)
	}
}

func TestQueue_EnqueueRejectsAtMaxDepth(t *testing.T) {
	q := store.NewQueue(t.TempDir())
	fp := domain.Fingerprint("dddddddddddddddd")

	for i := 0; i < store.MaxQueueDepth; i++ {
		if err := q.Enqueue(domain.QueuedMessage{RecipientFingerprint: fp}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	if err := q.Enqueue(domain.QueuedMessage{RecipientFingerprint: fp}); err != domain.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull once at MaxQueueDepth, got %v", err)
	}
}

func TestQueue_RequeuePrependsPreservingOrder(t *testing.T) {
	q := store.NewQueue(t.TempDir())
	fp := domain.Fingerprint("eeeeeeeeeeeeeeee")

	if err := q.Enqueue(domain.QueuedMessage{RecipientFingerprint: fp, Plaintext: []byte{2}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failed := []domain.QueuedMessage{
		{RecipientFingerprint: fp, Plaintext: []byte{0}},
		{RecipientFingerprint: fp, Plaintext: []byte{1}},
	}
	if err := q.Requeue(fp, failed); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	msgs, err := q.Drain(fp)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after Requeue, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Plaintext[0] != byte(i) {
			t.Fatalf("expected requeued batch ahead of the original message in order, got %+v", msgs)
		}
	}
}

func TestQueue_RequeueEmptyIsNoop(t *testing.T) {
	q := store.NewQueue(t.TempDir())
	fp := domain.Fingerprint("ffffffffffffffff")

	if err := q.Requeue(fp, nil); err != nil {
		t.Fatalf("Requeue nil: %v", err)
	}
	if depth, err := q.Depth(fp); err != nil || depth != 0 {
		t.Fatalf("expected depth 0, got %d err=%v", depth, err)
	}
}
