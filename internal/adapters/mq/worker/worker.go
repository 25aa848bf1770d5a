package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/matchday/internal/adapters/mq/queue"
	"github.com/okian/matchday/internal/domain/breaker"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

const metricsUpdateInterval = 5 * time.Second

// Submitter is the ingestion entry point consumers feed.
type Submitter interface {
	Submit(ctx context.Context, ev model.CanonicalEvent) (ingest.Receipt, error)
}

// Consumer drains one provider's lane through its breaker.
type Consumer struct {
	provider string
	queue    queue.Queue
	submit   Submitter
	breaker  *breaker.Breaker
	retry    time.Duration

	stop   <-chan struct{}
	done   chan struct{}
	logger logger.Logger
}

// Run processes messages until ctx is cancelled or the queue closes.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	for ctx.Err() == nil {
		if wait := c.breaker.Until(); wait > 0 {
			if !c.sleep(ctx, wait) {
				return
			}
			continue
		}

		msg, err := c.queue.Next(ctx, c.provider)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			c.logger.Error(ctx, "dequeue failed", logger.Error(err))
			if !c.sleep(ctx, c.retry) {
				return
			}
			continue
		}

		if err := c.breaker.Allow(); err != nil {
			c.requeue(ctx, msg)
			continue
		}
		if !c.process(ctx, msg) {
			c.breaker.Failure()
			if !c.sleep(ctx, c.retry) {
				return
			}
			continue
		}
		c.breaker.Success()
	}
}

// process submits one message and reports whether the outcome was final.
// Final outcomes are acked; anything else is nacked for redelivery.
func (c *Consumer) process(ctx context.Context, msg queue.Message) bool {
	ev := msg.Event
	if ev.ProviderID == "" {
		ev.ProviderID = c.provider
	}
	receipt, err := c.submit.Submit(ctx, ev)
	if ingest.IsFinal(err) {
		if ackErr := c.queue.Ack(ctx, c.provider, msg.ID); ackErr != nil {
			c.logger.Error(ctx, "ack failed", logger.String("message_id", msg.ID), logger.Error(ackErr))
		}
		c.logger.Debug(ctx, "message processed",
			logger.String("event_id", ev.EventID),
			logger.String("status", string(receipt.Status)),
			logger.Int("attempts", msg.Attempts))
		return true
	}
	metrics.RecordErrorByComponent("consumer", "transient")
	c.logger.Warn(ctx, "transient ingestion failure",
		logger.String("event_id", ev.EventID),
		logger.Int("attempts", msg.Attempts),
		logger.Error(err))
	c.requeue(ctx, msg)
	return false
}

func (c *Consumer) requeue(ctx context.Context, msg queue.Message) {
	// Nack must land even when ctx is already cancelled.
	if err := c.queue.Nack(context.WithoutCancel(ctx), c.provider, msg.ID); err != nil {
		c.logger.Error(ctx, "nack failed", logger.String("message_id", msg.ID), logger.Error(err))
	}
}

// sleep waits d and reports false when the consumer should exit instead.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	case <-t.C:
		return true
	}
}

// Pool runs one consumer per provider lane and starts new ones as lanes appear.
type Pool struct {
	queue  queue.Queue
	submit Submitter
	cfg    config

	mu        sync.Mutex
	consumers map[string]*Consumer
	shutdown  chan struct{}
	stopOnce  sync.Once
	ctx       context.Context

	logger logger.Logger
}

// NewPool creates a consumer pool over q.
func NewPool(q queue.Queue, submit Submitter, opts ...Option) *Pool {
	cfg := newConfig("consumer-pool", opts)
	return &Pool{
		queue:     q,
		submit:    submit,
		cfg:       cfg,
		consumers: make(map[string]*Consumer),
		shutdown:  make(chan struct{}),
		logger:    cfg.logger,
	}
}

// Start launches consumers for providers and every lane already in the
// queue, then keeps watching for new lanes.
func (p *Pool) Start(ctx context.Context, providers ...string) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	for _, name := range providers {
		p.ensure(name)
	}
	p.discover(ctx)
	go p.watch(ctx)
}

func (p *Pool) ensure(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.consumers[provider]; ok || p.ctx == nil {
		return
	}
	select {
	case <-p.shutdown:
		return
	default:
	}
	c := &Consumer{
		provider: provider,
		queue:    p.queue,
		submit:   p.submit,
		breaker: breaker.New(provider, p.cfg.breaker, breaker.WithStateChange(func(name string, from, to breaker.State) {
			p.logger.Warn(context.Background(), "breaker state changed",
				logger.String("provider", name), logger.String("from", from.String()), logger.String("to", to.String()))
		})),
		retry:  p.cfg.retryDelay,
		stop:   p.shutdown,
		done:   make(chan struct{}),
		logger: p.logger.Named(provider),
	}
	p.consumers[provider] = c
	go c.Run(p.ctx)
	p.logger.Info(p.ctx, "consumer started", logger.String("provider", provider))
}

func (p *Pool) discover(ctx context.Context) {
	for _, name := range p.queue.Providers(ctx) {
		p.ensure(name)
	}
}

func (p *Pool) watch(ctx context.Context) {
	discover := time.NewTicker(p.cfg.pollInterval)
	defer discover.Stop()
	gauges := time.NewTicker(metricsUpdateInterval)
	defer gauges.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-discover.C:
			p.discover(ctx)
		case <-gauges.C:
			for _, name := range p.queue.Providers(ctx) {
				metrics.UpdateQueueSize(name, p.queue.Len(ctx, name))
			}
		}
	}
}

// BreakerStates reports each provider's breaker position.
func (p *Pool) BreakerStates() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.consumers))
	for name, c := range p.consumers {
		out[name] = c.breaker.State().String()
	}
	return out
}

// Shutdown closes the queue and waits for every consumer to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.shutdown) })
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		select {
		case <-c.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "consumer shutdown timed out", logger.String("provider", c.provider))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	return nil
}
