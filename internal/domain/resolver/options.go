package resolver

import (
	"time"

	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/pkg/logger"
)

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithLeaseTimeout bounds how long a writer waits for a match lease.
func WithLeaseTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.leases = NewLeaseManager(d)
		}
	}
}

// WithTolerance sets the out-of-order tolerance for accepted events.
func WithTolerance(t Tolerance) Option {
	return func(r *Resolver) { r.tolerance = t }
}

// WithAutoSchedule schedules unknown matches on first event using the
// latest ruleset of the event's sport.
func WithAutoSchedule(enabled bool) Option {
	return func(r *Resolver) { r.autoSchedule = enabled }
}

// WithEvaluator replaces the rule engine.
func WithEvaluator(e scoring.Evaluator) Option {
	return func(r *Resolver) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}
