package playback

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestQueueFIFOAndSentinel(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(2)
	for i, w := range []string{"a", "b"} {
		if err := q.Reserve(ctx); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		q.Put(Item{Index: i, Word: w})
	}
	q.Close()
	if q.Len() != 2 {
		t.Fatalf("expected 2 ready items, got %d", q.Len())
	}

	for _, want := range []string{"a", "b"} {
		item, ok, err := q.Get(ctx)
		if err != nil || !ok || item.Word != want {
			t.Fatalf("expected %s, got %+v ok=%v err=%v", want, item, ok, err)
		}
	}
	if _, ok, err := q.Get(ctx); ok || err != nil {
		t.Fatalf("expected sentinel, got ok=%v err=%v", ok, err)
	}
	mustPanic(t, "get after sentinel", func() { _, _, _ = q.Get(ctx) })
}

func TestQueueReserveBlocksAtCapacity(t *testing.T) {
	q := NewQueue(1)
	if err := q.Reserve(context.Background()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	q.Put(Item{Word: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Reserve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected reserve to block until deadline, got %v", err)
	}

	if _, _, err := q.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := q.Reserve(context.Background()); err != nil {
		t.Fatalf("reserve after dequeue: %v", err)
	}
	if q.Peak() != 1 {
		t.Fatalf("expected peak 1, got %d", q.Peak())
	}
}

func TestQueueMisusePanics(t *testing.T) {
	q := NewQueue(1)
	mustPanic(t, "put without reservation", func() { q.Put(Item{}) })
	q.Close()
	mustPanic(t, "second close", func() { q.Close() })
	_ = q.Reserve(context.Background())
	mustPanic(t, "put after close", func() { q.Put(Item{}) })
}

func TestQueueGetHonoursCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := q.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestQueueDiscard(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 3; i++ {
		_ = q.Reserve(context.Background())
		q.Put(Item{Index: i})
	}
	if n := q.Discard(); n != 3 {
		t.Fatalf("expected 3 discarded, got %d", n)
	}
	if q.InFlight() != 0 {
		t.Fatalf("expected all slots released, got %d", q.InFlight())
	}
}
