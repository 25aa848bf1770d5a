package ingest

import (
	"time"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/dedupe"
	"github.com/okian/matchday/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithDeduper replaces the default in-memory deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.dedupe = d
		}
	}
}

// WithVerifier enables cross-provider corroboration.
func WithVerifier(v *Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithSequencer routes accepts through a per-match sequencer.
func WithSequencer(q Sequencer) Option {
	return func(s *Service) {
		if q != nil {
			s.seq = q
		}
	}
}

// WithQuarantineStore replaces the default in-memory quarantine.
func WithQuarantineStore(q QuarantineStore) Option {
	return func(s *Service) {
		if q != nil {
			s.quarantine = q
		}
	}
}

// WithAuditLog records quarantine decisions.
func WithAuditLog(l audit.Log) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithMinuteTolerance bounds the minute disagreement between a quarantined
// event and a report that releases it.
func WithMinuteTolerance(minutes int) Option {
	return func(s *Service) {
		if minutes >= 0 {
			s.minutes = minutes
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the named logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}
