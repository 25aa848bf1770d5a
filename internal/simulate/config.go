// Package simulate drives a running matchday server with generated
// multi-provider match feeds and checks the totals it reports against a
// local evaluation of the same ruleset.
package simulate

import (
	"errors"
	"fmt"
	"time"
)

// Generation bounds.
const (
	maxEventsPerMatch = 60
	minuteStride      = 3
)

// ErrInvalidConfig is returned for unusable simulation settings.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL         string        // Base URL of the service
	RulesDir        string        // Ruleset directory shared with the server
	Sport           string        // Sport to simulate
	Matches         int           // Matches to generate
	Players         int           // Player pool shared by every match
	EventsPerMatch  int           // Scored facts per match
	Providers       []string      // Feed providers; the first reports every fact
	CorroborateRate float64       // Chance a second provider reports the same fact
	RedeliveryRate  float64       // Chance a delivery is sent twice
	Seed            uint64        // Generator seed; equal seeds give equal feeds
	Workers         int           // Matches submitted concurrently
	Timeout         time.Duration // HTTP request timeout
	SettleTimeout   time.Duration // How long to wait for projections to match
	OutputFile      string        // Optional JSON dump of the generated plan
	TopN            int           // Leaderboard rows to verify
}

// Validate checks ranges.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.BaseURL == "":
		return invalid("base url is required")
	case c.Matches < 1:
		return invalid("matches must be positive")
	case c.Players < 1:
		return invalid("players must be positive")
	case c.EventsPerMatch < 1 || c.EventsPerMatch > maxEventsPerMatch:
		return invalid("events per match must be within [1, %d]", maxEventsPerMatch)
	case len(c.Providers) == 0:
		return invalid("at least one provider is required")
	case c.CorroborateRate < 0 || c.CorroborateRate > 1:
		return invalid("corroborate rate must be within [0, 1]")
	case c.RedeliveryRate < 0 || c.RedeliveryRate > 1:
		return invalid("redelivery rate must be within [0, 1]")
	case c.Workers < 1:
		return invalid("workers must be positive")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p == "" || seen[p] {
			return invalid("provider %q is empty or repeated", p)
		}
		seen[p] = true
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Deliveries   int
	Accepted     int
	Duplicate    int
	Corroborated int
	Quarantined  int
	Failed       int

	ExpectedDuplicate    int
	ExpectedCorroborated int

	MatchesVerified int
	Mismatches      []string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
