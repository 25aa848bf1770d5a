// Package worker runs the partitioned match dispatcher and the provider
// queue consumers.
package worker

import (
	"time"

	"github.com/okian/matchday/internal/domain/breaker"
	"github.com/okian/matchday/pkg/logger"
)

type config struct {
	name         string
	logger       logger.Logger
	breaker      breaker.Config
	retryDelay   time.Duration
	pollInterval time.Duration
	depth        int
}

// Option applies a configuration option to a Dispatcher or Pool.
type Option func(*config)

// WithName sets the name used for logging.
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logger.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker sets the per-provider breaker thresholds.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithRetryDelay sets the pause after a transient failure.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithPollInterval sets how often the pool looks for new provider lanes.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPartitionDepth sets each partition's job buffer.
func WithPartitionDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.depth = n
		}
	}
}

func newConfig(name string, opts []Option) config {
	c := config{
		name:         name,
		breaker:      breaker.DefaultConfig(),
		retryDelay:   100 * time.Millisecond,
		pollInterval: time.Second,
		depth:        1024,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named(c.name)
	}
	return c
}
