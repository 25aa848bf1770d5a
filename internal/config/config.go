// Package config defines service configuration and its loading.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/matchday/internal/domain/breaker"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/tiebreak"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogJSON switches log output to JSON lines.
	LogJSON bool `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of match partitions.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds each provider queue.
	QueueSize int `koanf:"queue_size"`
	// QueueBackend is memory or sqlite.
	QueueBackend string `koanf:"queue_backend"`

	// DedupeSize and DedupeWindowMS bound the idempotency window.
	DedupeSize     int `koanf:"dedupe_size"`
	DedupeWindowMS int `koanf:"dedupe_window_ms"`

	// LedgerBackend is memory, sqlite or postgres.
	LedgerBackend    string `koanf:"ledger_backend"`
	SQLitePath       string `koanf:"sqlite_path"`
	PostgresDSN      string `koanf:"postgres_dsn"`
	PostgresMaxConns int    `koanf:"postgres_max_conns"`

	// RulesDir holds ruleset YAML files; WatchRules publishes new files live.
	RulesDir   string `koanf:"rules_dir"`
	WatchRules bool   `koanf:"watch_rules"`

	LeaseTimeoutMS int `koanf:"lease_timeout_ms"`
	// AutoSchedule schedules unknown matches on their first event with the
	// latest ruleset of the sport.
	AutoSchedule bool `koanf:"auto_schedule"`

	// DefaultTrust applies to providers missing from Providers.
	DefaultTrust     string            `koanf:"default_trust"`
	Providers        map[string]string `koanf:"providers"`
	TrustedProviders []string          `koanf:"trusted_providers"`

	CorroborationQuorum          int `koanf:"corroboration_quorum"`
	CorroborationWindowMS        int `koanf:"corroboration_window_ms"`
	CorroborationMinuteTolerance int `koanf:"corroboration_minute_tolerance"`

	ToleranceMinuteBackward int `koanf:"tolerance_minute_backward"`
	ToleranceBackwardMS     int `koanf:"tolerance_backward_ms"`
	ToleranceForwardMS      int `koanf:"tolerance_forward_ms"`

	BreakerFailureThreshold int `koanf:"breaker_failure_threshold"`
	BreakerOpenMS           int `koanf:"breaker_open_ms"`
	BreakerHalfOpenProbes   int `koanf:"breaker_half_open_probes"`

	// SnapshotIntervalMS is how often projections are snapshotted; 0 disables.
	SnapshotIntervalMS int `koanf:"snapshot_interval_ms"`
	// MetricsIntervalMS is how often background gauges are refreshed.
	MetricsIntervalMS int `koanf:"metrics_interval_ms"`

	// ApprovalTiers lists the roles that must sign a correction, in order.
	ApprovalTiers []string `koanf:"approval_tiers"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	TieBreakRegular           []string          `koanf:"tiebreak_regular"`
	TieBreakPlayoff           []string          `koanf:"tiebreak_playoff"`
	TieBreakExtensionMinutes  int               `koanf:"tiebreak_extension_minutes"`
	TieBreakRegulationMinutes int               `koanf:"tiebreak_regulation_minutes"`
	TieBreakSuddenDeathTiers  int               `koanf:"tiebreak_sudden_death_tiers"`
	TieBreakLeagues           []tiebreak.Config `koanf:"tiebreak_leagues"`
}

// New creates a Config with defaults. The context is unused.
func New(_ context.Context) *Config {
	tb := tiebreak.DefaultConfig()
	bc := breaker.DefaultConfig()
	return &Config{
		LogLevel:                     "info",
		Addr:                         ":9080",
		WorkerCount:                  runtime.NumCPU() * 2,
		QueueSize:                    100_000,
		QueueBackend:                 BackendMemory,
		DedupeSize:                   500_000,
		DedupeWindowMS:               int((24 * time.Hour).Milliseconds()),
		LedgerBackend:                BackendMemory,
		PostgresMaxConns:             10,
		RulesDir:                     "rules",
		LeaseTimeoutMS:               5_000,
		DefaultTrust:                 "low",
		CorroborationQuorum:          1,
		CorroborationWindowMS:        2_000,
		CorroborationMinuteTolerance: 1,
		ToleranceMinuteBackward:      5,
		BreakerFailureThreshold:      bc.FailureThreshold,
		BreakerOpenMS:                int(bc.OpenFor.Milliseconds()),
		BreakerHalfOpenProbes:        bc.HalfOpenProbes,
		SnapshotIntervalMS:           60_000,
		MetricsIntervalMS:            5_000,
		ApprovalTiers:                []string{string(model.RoleCommissioner), string(model.RoleAdmin)},
		MaxLeaderboardLimit:          100,
		TieBreakRegular:              criteria(tb.Phases[tiebreak.PhaseRegular]),
		TieBreakPlayoff:              criteria(tb.Phases[tiebreak.PhasePlayoff]),
		TieBreakExtensionMinutes:     tb.ExtensionMinutes,
		TieBreakRegulationMinutes:    tb.RegulationMinutes,
		TieBreakSuddenDeathTiers:     tb.SuddenDeathTiers,
	}
}

func criteria(cs []tiebreak.Criterion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// LeaseTimeout is the per-match lease bound.
func (c *Config) LeaseTimeout() time.Duration { return ms(c.LeaseTimeoutMS) }

// DedupeWindow is the idempotency retention age.
func (c *Config) DedupeWindow() time.Duration { return ms(c.DedupeWindowMS) }

// CorroborationWindow bounds the wait for a corroboration quorum.
func (c *Config) CorroborationWindow() time.Duration { return ms(c.CorroborationWindowMS) }

// SnapshotInterval is the projection snapshot period.
func (c *Config) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMS) }

// MetricsInterval is the background gauge refresh period.
func (c *Config) MetricsInterval() time.Duration { return ms(c.MetricsIntervalMS) }

// Breaker returns the per-provider breaker thresholds.
func (c *Config) Breaker() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.BreakerFailureThreshold,
		OpenFor:          ms(c.BreakerOpenMS),
		HalfOpenProbes:   c.BreakerHalfOpenProbes,
	}
}

// Trust returns the provider trust map with TrustedProviders folded in.
func (c *Config) Trust() map[string]string {
	out := make(map[string]string, len(c.Providers)+len(c.TrustedProviders))
	for p, level := range c.Providers {
		out[p] = strings.ToLower(level)
	}
	for _, p := range c.TrustedProviders {
		if p = strings.TrimSpace(p); p != "" {
			out[p] = "trusted"
		}
	}
	return out
}

// Roles returns the approval tiers.
func (c *Config) Roles() []model.Role {
	out := make([]model.Role, len(c.ApprovalTiers))
	for i, t := range c.ApprovalTiers {
		out[i] = model.Role(strings.ToLower(strings.TrimSpace(t)))
	}
	return out
}

// TieBreak returns the fallback policy followed by per-league overrides.
func (c *Config) TieBreak() []tiebreak.Config {
	fallback := tiebreak.Config{
		Phases:            map[tiebreak.Phase][]tiebreak.Criterion{},
		ExtensionMinutes:  c.TieBreakExtensionMinutes,
		RegulationMinutes: c.TieBreakRegulationMinutes,
		SuddenDeathTiers:  c.TieBreakSuddenDeathTiers,
	}
	for phase, names := range map[tiebreak.Phase][]string{
		tiebreak.PhaseRegular: c.TieBreakRegular,
		tiebreak.PhasePlayoff: c.TieBreakPlayoff,
	} {
		chain := make([]tiebreak.Criterion, 0, len(names))
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				chain = append(chain, tiebreak.Criterion(n))
			}
		}
		fallback.Phases[phase] = chain
	}
	return append([]tiebreak.Config{fallback}, c.TieBreakLeagues...)
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level %q", c.LogLevel)
	}
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	if c.WorkerCount < 1 || c.QueueSize < 1 || c.DedupeSize < 1 {
		return invalid("worker_count, queue_size and dedupe_size must be positive")
	}
	if c.DedupeWindowMS < 1 || c.LeaseTimeoutMS < 1 {
		return invalid("dedupe_window_ms and lease_timeout_ms must be positive")
	}
	switch c.LedgerBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite ledger")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn is required for the postgres ledger")
		}
		if c.PostgresMaxConns < 1 {
			return invalid("postgres_max_conns must be positive")
		}
	default:
		return invalid("ledger_backend %q", c.LedgerBackend)
	}
	switch c.QueueBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite queue")
		}
	default:
		return invalid("queue_backend %q", c.QueueBackend)
	}
	if c.RulesDir == "" {
		return invalid("rules_dir must not be empty")
	}
	for p, level := range c.Trust() {
		if level != "trusted" && level != "low" {
			return invalid("provider %s trust %q", p, level)
		}
	}
	if t := strings.ToLower(c.DefaultTrust); t != "trusted" && t != "low" {
		return invalid("default_trust %q", c.DefaultTrust)
	}
	if c.CorroborationQuorum < 1 {
		return invalid("corroboration_quorum must be at least 1")
	}
	if c.CorroborationWindowMS < 0 || c.CorroborationMinuteTolerance < 0 {
		return invalid("corroboration window and tolerance must not be negative")
	}
	if c.ToleranceMinuteBackward < 0 || c.ToleranceBackwardMS < 0 || c.ToleranceForwardMS < 0 {
		return invalid("tolerances must not be negative")
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerOpenMS < 1 || c.BreakerHalfOpenProbes < 1 {
		return invalid("breaker thresholds must be positive")
	}
	if c.SnapshotIntervalMS < 0 {
		return invalid("snapshot_interval_ms must not be negative")
	}
	if c.MetricsIntervalMS < 1 {
		return invalid("metrics_interval_ms must be positive")
	}
	if len(c.ApprovalTiers) == 0 {
		return invalid("approval_tiers must not be empty")
	}
	for _, r := range c.Roles() {
		if r.Rank() == 0 {
			return invalid("approval tier %q", r)
		}
	}
	if c.MaxLeaderboardLimit < 1 {
		return invalid("max_leaderboard_limit must be positive")
	}
	for _, tb := range c.TieBreak() {
		if err := tb.Validate(); err != nil {
			return invalid("tiebreak %s: %v", tb.LeagueID, err)
		}
	}
	return nil
}
