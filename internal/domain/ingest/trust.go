package ingest

import "strings"

// Trust levels for providers.
const (
	TrustHigh = "trusted"
	TrustLow  = "low"
)

// TrustPolicy maps providers to trust levels. Trusted providers count as a
// full corroboration quorum on their own.
type TrustPolicy struct {
	Default   string
	Providers map[string]string
}

// IsTrusted reports whether provider is trusted.
func (p TrustPolicy) IsTrusted(provider string) bool {
	level, ok := p.Providers[provider]
	if !ok {
		level = p.Default
	}
	return strings.EqualFold(level, TrustHigh)
}
