package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/matchday/pkg/metrics"
)

// LeaseManager hands out one exclusive, time-bounded writer lease per match.
type LeaseManager struct {
	mu      sync.Mutex
	leases  map[string]chan struct{}
	timeout time.Duration
}

// NewLeaseManager creates a manager whose Acquire gives up after timeout.
func NewLeaseManager(timeout time.Duration) *LeaseManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LeaseManager{leases: make(map[string]chan struct{}), timeout: timeout}
}

func (m *LeaseManager) slot(matchID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.leases[matchID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.leases[matchID] = ch
	}
	return ch
}

// Acquire blocks until the match lease is free, the timeout elapses
// (ErrLeaseTimeout) or ctx is done. The returned release is idempotent and
// must be deferred by the caller.
func (m *LeaseManager) Acquire(ctx context.Context, matchID string) (release func(), err error) {
	ch := m.slot(matchID)
	start := time.Now()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		metrics.RecordLeaseTimeout()
		return nil, fmt.Errorf("%w: %s after %s", ErrLeaseTimeout, matchID, m.timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire lease %s: %w", matchID, ctx.Err())
	}
	metrics.RecordLeaseWait(float64(time.Since(start).Microseconds()) / 1000)

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
