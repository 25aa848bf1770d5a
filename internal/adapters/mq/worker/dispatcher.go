package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// Default dispatcher configuration constants.
const defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()

// ErrStopped is returned for work submitted outside Start and Shutdown.
var ErrStopped = errors.New("dispatcher stopped")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// partition runs the jobs of its matches one at a time.
type partition struct {
	name string
	jobs chan job
	done chan struct{}
	log  logger.Logger
}

func (p *partition) run() {
	defer close(p.done)
	for j := range p.jobs {
		metrics.UpdatePartitionDepth(p.name, len(p.jobs))
		j.done <- p.exec(j)
	}
}

func (p *partition) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("dispatcher", "panic")
			p.log.Error(j.ctx, "job panicked", logger.Any("panic", r))
			err = fmt.Errorf("partition %s: job panicked: %v", p.name, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Dispatcher serialises work per match across N partitions. Matches in
// different partitions run in parallel.
type Dispatcher struct {
	parts []*partition
	log   logger.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewDispatcher creates n partitions; n < 1 picks a CPU-based default.
func NewDispatcher(n int, opts ...Option) *Dispatcher {
	if n < 1 {
		n = runtime.NumCPU() * defaultWorkerMultiplier
	}
	cfg := newConfig("dispatcher", opts)
	d := &Dispatcher{parts: make([]*partition, n), log: cfg.logger}
	for i := range d.parts {
		d.parts[i] = &partition{
			name: "partition-" + strconv.Itoa(i),
			jobs: make(chan job, cfg.depth),
			done: make(chan struct{}),
			log:  cfg.logger.Named("partition-" + strconv.Itoa(i)),
		}
	}
	return d
}

// Partition maps a match to one of n partitions.
func Partition(matchID string, n int) int { return model.Partition(matchID, n) }

// Partitions returns the partition count.
func (d *Dispatcher) Partitions() int { return len(d.parts) }

// Start launches the partition goroutines.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for _, p := range d.parts {
		go p.run()
	}
}

// Do runs fn on matchID's partition and waits for it. It satisfies the
// ingestion Sequencer contract.
func (d *Dispatcher) Do(ctx context.Context, matchID string, fn func(ctx context.Context) error) error {
	d.mu.RLock()
	if !d.started || d.stopped {
		d.mu.RUnlock()
		return ErrStopped
	}
	p := d.parts[Partition(matchID, len(d.parts))]
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.jobs <- j:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains queued jobs and waits for the partitions to exit.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.stopped = true
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for _, p := range d.parts {
		close(p.jobs)
	}
	d.mu.Unlock()

	for _, p := range d.parts {
		select {
		case <-p.done:
		case <-ctx.Done():
			d.log.Warn(ctx, "partition shutdown timed out", logger.String("partition", p.name))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
