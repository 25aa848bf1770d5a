// Package dedupe tracks idempotency keys inside a bounded retention window.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deduper records seen idempotency keys so an event is scored at most once.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was seen inside the
	// retention window and records it if not. Returns true for a duplicate.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets a key so a redelivery can be processed. Used when an
	// event was recorded but failed transiently before reaching the ledger.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// record is one remembered key, kept in arrival order.
type record struct {
	key string
	at  time.Time
}

// inMemoryDeduper keeps keys in a map plus an arrival-ordered list. The
// oldest key is evicted when maxSize is reached, and keys older than window
// expire lazily on each call.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = newest
	maxSize int        // <= 0 means unbounded
	window  time.Duration
	now     func() time.Time
	size    atomic.Int64
}

// NewInMemoryDeduper creates an in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 100000,
		window:  24 * time.Hour,
		now:     time.Now,
	}

	// Apply all options
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.seen[key]; ok {
		return true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.order.Back())
	}
	d.seen[key] = d.order.PushFront(&record{key: key, at: now})
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.remove(el)
	}
}

// expire drops keys older than the window. Must be called with d.mu held.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.window <= 0 {
		return
	}
	cutoff := now.Add(-d.window)
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		if el.Value.(*record).at.After(cutoff) {
			return
		}
		d.remove(el)
	}
}

// remove must be called with d.mu held.
func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	rec := d.order.Remove(el).(*record)
	delete(d.seen, rec.key)
	d.size.Add(-1)
}

// Size returns the current number of remembered keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
