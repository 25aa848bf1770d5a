// Package breaker implements the per-provider circuit breaker that pauses a
// queue consumer while its provider keeps failing.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/okian/matchday/pkg/metrics"
)

// State is the breaker position.
type State int

// States. The numeric values are exported as the breaker_state gauge.
const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case HalfOpen:
		return "HALF_OPEN"
	case Open:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow while the breaker rejects work.
var ErrOpen = errors.New("circuit breaker open")

// Config holds the thresholds.
type Config struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	OpenFor          time.Duration `koanf:"open"`
	HalfOpenProbes   int           `koanf:"half_open_probes"`
}

// DefaultConfig trips after five failures, waits thirty seconds and then
// admits one probe.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenFor: 30 * time.Second, HalfOpenProbes: 1}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	onChange func(name string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChange registers a transition callback. It runs with the breaker
// lock held and must not call back into the breaker.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New builds a closed breaker named after its provider.
func New(name string, cfg Config, opts ...Option) *Breaker {
	d := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = d.OpenFor
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = d.HalfOpenProbes
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	metrics.UpdateBreakerState(name, int(Closed))
	return b
}

// Name returns the provider name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving OPEN to HALF_OPEN once the open
// period has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reserves a slot for one call. Every successful Allow must be
// followed by exactly one Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.inFlight >= b.cfg.HalfOpenProbes {
			return ErrOpen
		}
	}
	b.inFlight++
	return nil
}

// Success reports a call that completed.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	b.failures = 0
	if b.state == HalfOpen {
		b.transition(Closed)
	}
}

// Failure reports a call that failed transiently.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release()
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// Until returns how long the breaker stays open, or zero when it admits calls.
func (b *Breaker) Until() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	if b.state != Open {
		return 0
	}
	return b.openedAt.Add(b.cfg.OpenFor).Sub(b.now())
}

func (b *Breaker) release() {
	if b.inFlight > 0 {
		b.inFlight--
	}
}

func (b *Breaker) trip() {
	b.failures = 0
	b.openedAt = b.now()
	b.transition(Open)
	metrics.RecordBreakerTrip(b.name)
}

func (b *Breaker) advance() {
	if b.state == Open && !b.now().Before(b.openedAt.Add(b.cfg.OpenFor)) {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metrics.UpdateBreakerState(b.name, int(to))
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
