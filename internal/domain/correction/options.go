package correction

import (
	"time"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore replaces the in-memory correction store.
func WithStore(s Store) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.store = s
		}
	}
}

// WithAuditLog sets where decisions are recorded.
func WithAuditLog(l audit.Log) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.audit = l
		}
	}
}

// WithNotifier sets the downstream notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithRebuilder refreshes projections after a correction lands.
func WithRebuilder(r Rebuilder) Option {
	return func(p *Pipeline) { p.rebuilder = r }
}

// WithApprovalTiers sets the roles that must sign, in order.
func WithApprovalTiers(tiers ...model.Role) Option {
	return func(p *Pipeline) {
		if len(tiers) > 0 {
			p.tiers = append([]model.Role(nil), tiers...)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger overrides the named logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}
