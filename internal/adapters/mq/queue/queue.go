// Package queue holds the per-provider intake queues feeding ingestion.
//
// Delivery is at-least-once: Next hands a message out and keeps it in flight
// until the consumer acks it; a nack puts it back at the head so the
// provider's order is preserved.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/metrics"
)

const defaultQueueCapacity = 100000

// Message is one queued provider event.
type Message struct {
	ID         string               `json:"id"`
	Provider   string               `json:"provider"`
	Event      model.CanonicalEvent `json:"event"`
	Attempts   int                  `json:"attempts"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// Queue is the contract shared by the in-memory and SQLite backends.
type Queue interface {
	// Enqueue appends ev to provider's queue.
	Enqueue(ctx context.Context, provider string, ev model.CanonicalEvent) (Message, error)
	// Next blocks until a message is ready or ctx is done.
	Next(ctx context.Context, provider string) (Message, error)
	// Ack removes an in-flight message for good.
	Ack(ctx context.Context, provider, id string) error
	// Nack returns an in-flight message to the head of the queue.
	Nack(ctx context.Context, provider, id string) error
	// Len counts ready and in-flight messages.
	Len(ctx context.Context, provider string) int
	// Providers lists every provider that has ever enqueued.
	Providers(ctx context.Context) []string
	Close() error
	IsClosed() bool
}

type lane struct {
	ready    []Message
	inFlight map[string]Message
	signal   chan struct{}
}

func newLane() *lane {
	return &lane{inFlight: make(map[string]Message), signal: make(chan struct{}, 1)}
}

func (l *lane) poke() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// InMemoryQueue implements Queue with one lane per provider.
type InMemoryQueue struct {
	capacity int

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	done   chan struct{}
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		lanes:    make(map[string]*lane),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *InMemoryQueue) lane(provider string) *lane {
	l, ok := q.lanes[provider]
	if !ok {
		l = newLane()
		q.lanes[provider] = l
	}
	return l
}

// Enqueue adds an event to provider's lane.
func (q *InMemoryQueue) Enqueue(_ context.Context, provider string, ev model.CanonicalEvent) (Message, error) {
	if provider == "" {
		return Message{}, ErrProvider
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return Message{}, ErrClosed
	}
	l := q.lane(provider)
	size := len(l.ready) + len(l.inFlight)
	if size >= q.capacity {
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return Message{}, fmt.Errorf("%w: provider %s holds %d messages", ErrFull, provider, size)
	}
	msg := Message{ID: uuid.NewString(), Provider: provider, Event: ev, EnqueuedAt: time.Now().UTC()}
	l.ready = append(l.ready, msg)
	l.poke()
	metrics.RecordQueueEnqueue(provider)
	metrics.UpdateQueueSize(provider, size+1)
	return msg, nil
}

// Next hands out the head of provider's lane.
func (q *InMemoryQueue) Next(ctx context.Context, provider string) (Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrClosed
		}
		l := q.lane(provider)
		if len(l.ready) > 0 {
			msg := l.ready[0]
			l.ready = l.ready[1:]
			msg.Attempts++
			l.inFlight[msg.ID] = msg
			if len(l.ready) > 0 {
				l.poke()
			}
			q.mu.Unlock()
			return msg, nil
		}
		signal := l.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-q.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Ack drops an in-flight message.
func (q *InMemoryQueue) Ack(_ context.Context, provider, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lane(provider)
	if _, ok := l.inFlight[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	delete(l.inFlight, id)
	metrics.RecordQueueAck(provider)
	metrics.UpdateQueueSize(provider, len(l.ready)+len(l.inFlight))
	return nil
}

// Nack requeues an in-flight message ahead of everything else.
func (q *InMemoryQueue) Nack(_ context.Context, provider, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lane(provider)
	msg, ok := l.inFlight[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	delete(l.inFlight, id)
	l.ready = append([]Message{msg}, l.ready...)
	l.poke()
	metrics.RecordQueueNack(provider)
	return nil
}

// Len returns the ready plus in-flight count.
func (q *InMemoryQueue) Len(_ context.Context, provider string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[provider]
	if !ok {
		return 0
	}
	return len(l.ready) + len(l.inFlight)
}

// Providers lists known lanes in name order.
func (q *InMemoryQueue) Providers(context.Context) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.lanes))
	for p := range q.lanes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close wakes every blocked Next. Messages still queued are dropped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
