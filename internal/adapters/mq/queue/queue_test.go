package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/matchday/internal/domain/model"
)

func event(id string) model.CanonicalEvent {
	return model.CanonicalEvent{EventID: id, MatchID: "m1", PlayerID: "p1", SportID: "football", EventType: "GOAL", ProviderID: "opta"}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx, "opta"); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if _, err := q.Enqueue(ctx, "opta", event("e1")); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx, "opta"); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	msg, err := q.Next(ctx, "opta")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if msg.Event.EventID != "e1" || msg.Attempts != 1 {
		t.Errorf("unexpected message %+v", msg)
	}
	// in flight still counts
	if l := q.Len(ctx, "opta"); l != 1 {
		t.Errorf("expected length 1 while in flight, got %d", l)
	}

	if err := q.Ack(ctx, "opta", msg.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if l := q.Len(ctx, "opta"); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if err := q.Ack(ctx, "opta", msg.ID); !errors.Is(err, ErrUnknown) {
		t.Errorf("expected ErrUnknown on second ack, got %v", err)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		if _, err := q.Enqueue(ctx, "opta", event(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if _, err := q.Enqueue(ctx, "opta", event("e3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	// lanes are independent
	if _, err := q.Enqueue(ctx, "statsperform", event("e3")); err != nil {
		t.Errorf("expected other provider to accept, got %v", err)
	}
	if _, err := q.Enqueue(ctx, "", event("e4")); !errors.Is(err, ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", err)
	}
	if got := q.Providers(ctx); len(got) != 2 || got[0] != "opta" || got[1] != "statsperform" {
		t.Errorf("unexpected providers %v", got)
	}
}

func TestInMemoryQueue_NackRedeliversInOrder(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		if _, err := q.Enqueue(ctx, "opta", event(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	first, _ := q.Next(ctx, "opta")
	if err := q.Nack(ctx, "opta", first.ID); err != nil {
		t.Fatalf("nack: %v", err)
	}
	again, _ := q.Next(ctx, "opta")
	if again.ID != first.ID || again.Attempts != 2 {
		t.Errorf("expected redelivery of %s with 2 attempts, got %s/%d", first.ID, again.ID, again.Attempts)
	}
	if err := q.Nack(ctx, "opta", "nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
}

func TestInMemoryQueue_NextBlocks(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Next(ctx, "opta"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	got := make(chan string, 1)
	go func() {
		msg, err := q.Next(context.Background(), "opta")
		if err == nil {
			got <- msg.Event.EventID
		}
	}()
	time.Sleep(5 * time.Millisecond)
	if _, err := q.Enqueue(context.Background(), "opta", event("late")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case id := <-got:
		if id != "late" {
			t.Errorf("expected late, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1000))
	ctx := context.Background()
	numProducers := 10
	numEvents := 50

	var wg sync.WaitGroup
	for i := 0; i < numProducers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numEvents; j++ {
				if _, err := q.Enqueue(ctx, "opta", event(fmt.Sprintf("e%d_%d", id, j))); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < numProducers*numEvents; i++ {
		msg, err := q.Next(ctx, "opta")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		seen[msg.Event.EventID] = true
		if err := q.Ack(ctx, "opta", msg.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	if len(seen) != numProducers*numEvents {
		t.Errorf("expected %d distinct events, got %d", numProducers*numEvents, len(seen))
	}
	if l := q.Len(ctx, "opta"); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	woken := make(chan error, 1)
	go func() {
		_, err := q.Next(ctx, "opta")
		woken <- err
	}()
	time.Sleep(5 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	select {
	case err := <-woken:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected blocked Next to return on close")
	}
	if _, err := q.Enqueue(ctx, "opta", event("e1")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected enqueue to fail after closing, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
