package tiebreak

import (
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/pkg/logger"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithAuditLog records every resolution.
func WithAuditLog(l audit.Log) Option {
	return func(r *Resolver) { r.audit = l }
}

// WithLogger overrides the named logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}
