package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/config"
	"github.com/okian/matchday/internal/domain/tiebreak"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueBackend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.Breaker().OpenFor, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Breaker().FailureThreshold, convey.ShouldEqual, 5)
			convey.So(cfg.DedupeWindow(), convey.ShouldEqual, 24*time.Hour)
		})

		convey.Convey("Then the fallback tie-break chain matches the built-in one", func() {
			tb := cfg.TieBreak()
			convey.So(tb, convey.ShouldHaveLength, 1)
			convey.So(tb[0].Phases, convey.ShouldResemble, tiebreak.DefaultConfig().Phases)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := config.New(context.Background())

		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"unknown log level", func(c *config.Config) { c.LogLevel = "loud" }},
			{"unknown backend", func(c *config.Config) { c.LedgerBackend = "mongo" }},
			{"postgres without dsn", func(c *config.Config) { c.LedgerBackend = config.BackendPostgres }},
			{"zero quorum", func(c *config.Config) { c.CorroborationQuorum = 0 }},
			{"unknown tier", func(c *config.Config) { c.ApprovalTiers = []string{"intern"} }},
			{"unknown trust", func(c *config.Config) { c.Providers = map[string]string{"opta": "sometimes"} }},
			{"unknown criterion", func(c *config.Config) { c.TieBreakRegular = []string{"coinToss"} }},
			{"negative tolerance", func(c *config.Config) { c.ToleranceForwardMS = -1 }},
			{"zero breaker probes", func(c *config.Config) { c.BreakerHalfOpenProbes = 0 }},
			{"zero metrics interval", func(c *config.Config) { c.MetricsIntervalMS = 0 }},
		}
		for _, tc := range cases {
			convey.Convey("Then it rejects "+tc.name, func() {
				tc.mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
