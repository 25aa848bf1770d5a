package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchday/internal/config"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/tiebreak"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchday.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// setenv sets an env var for the current Convey branch only.
func setenv(key, val string) {
	_ = os.Setenv(key, val)
	convey.Reset(func() { _ = os.Unsetenv(key) })
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.LoadFile(ctx, "")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
				convey.So(cfg.LedgerBackend, convey.ShouldEqual, config.BackendMemory)
				convey.So(cfg.LeaseTimeout(), convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.Roles(), convey.ShouldResemble, []model.Role{model.RoleCommissioner, model.RoleAdmin})
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			setenv("MATCHDAY_ADDR", ":8080")
			setenv("MATCHDAY_QUEUE_SIZE", "1000")
			setenv("MATCHDAY_WORKER_COUNT", "16")
			setenv("MATCHDAY_APPROVAL_TIERS", "admin")
			setenv("MATCHDAY_TRUSTED_PROVIDERS", "opta,statsbomb")
			setenv("MATCHDAY_METRICS_INTERVAL_MS", "250")

			cfg, err := config.LoadFile(ctx, "")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Roles(), convey.ShouldResemble, []model.Role{model.RoleAdmin})
				convey.So(cfg.Trust()["statsbomb"], convey.ShouldEqual, "trusted")
				convey.So(cfg.MetricsInterval(), convey.ShouldEqual, 250*time.Millisecond)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			path := writeConfig(t, `
addr: ":9090"
ledger_backend: sqlite
sqlite_path: /tmp/matchday.db
corroboration_quorum: 2
providers:
  opta: trusted
  scraper: low
tiebreak_leagues:
  - league_id: premier
    phases:
      regular: [keyPlayer, seededDraw]
      playoff: [suddenDeath]
    sudden_death_tiers: 2
`)
			cfg, err := config.LoadFile(ctx, path)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.LedgerBackend, convey.ShouldEqual, config.BackendSQLite)
				convey.So(cfg.CorroborationQuorum, convey.ShouldEqual, 2)
				convey.So(cfg.Trust(), convey.ShouldResemble, map[string]string{"opta": "trusted", "scraper": "low"})

				tb := cfg.TieBreak()
				convey.So(tb, convey.ShouldHaveLength, 2)
				convey.So(tb[0].LeagueID, convey.ShouldEqual, "")
				convey.So(tb[1].LeagueID, convey.ShouldEqual, "premier")
				convey.So(tb[1].Phases[tiebreak.PhaseRegular], convey.ShouldResemble,
					[]tiebreak.Criterion{tiebreak.KeyPlayer, tiebreak.SeededDraw})
				convey.So(tb[1].SuddenDeathTiers, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the file comes from MATCHDAY_CONFIG and env overrides it", func() {
			path := writeConfig(t, "addr: \":9090\"\nworker_count: 24\n")
			setenv("MATCHDAY_CONFIG", path)
			setenv("MATCHDAY_WORKER_COUNT", "32")

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			cfg, err := config.LoadFile(ctx, writeConfig(t, `invalid: yaml: content: [`))

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			cfg, err := config.LoadFile(ctx, "/non/existent/file.yaml")

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			setenv("MATCHDAY_ADDR", "")

			cfg, err := config.LoadFile(ctx, "")

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the sqlite ledger has no path", func() {
			setenv("MATCHDAY_LEDGER_BACKEND", "sqlite")

			_, err := config.LoadFile(ctx, "")

			convey.Convey("Then validation names the missing key", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "sqlite_path")
			})
		})
	})
}
