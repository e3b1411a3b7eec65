package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalQueueDeliversInOrder(t *testing.T) {
	q := NewLocalQueue(8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	got := make(chan string, len(ids))
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, jobID string) error {
			got <- jobID
			return nil
		})
	}()

	for _, want := range ids {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("delivered %s, want %s", id, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestLocalQueueStopsOnContextCancel(t *testing.T) {
	q := NewLocalQueue(1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(context.Context, string) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("consume err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop after cancel")
	}
}
