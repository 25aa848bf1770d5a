package dedupe

import "time"

// Option applies a configuration option to the InMemoryDeduper.
type Option func(*inMemoryDeduper)

// WithMaxSize bounds the number of remembered keys; the oldest is evicted
// first. maxSize <= 0 disables the bound.
func WithMaxSize(maxSize int) Option {
	return func(d *inMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithWindow sets how long a key is remembered. window <= 0 keeps keys
// until evicted by size.
func WithWindow(window time.Duration) Option {
	return func(d *inMemoryDeduper) {
		d.window = window
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *inMemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}
