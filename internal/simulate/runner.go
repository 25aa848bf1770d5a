package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run generates a feed, submits it, and verifies the server's projections
// and leaderboard against the locally computed totals.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Named("simulate")
	stats := &Stats{StartTime: time.Now()}

	reg := scoring.NewRegistry()
	if err := scoring.NewLoader(cfg.RulesDir, reg).LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rs, err := reg.Latest(cfg.Sport)
	if err != nil {
		return nil, err
	}
	plan, err := Generate(cfg, rs)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("run", plan.RunID),
		logger.Int("matches", cfg.Matches),
		logger.Int("eventsPerMatch", cfg.EventsPerMatch),
		logger.Int("workers", cfg.Workers))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, err
	}

	if err := submit(ctx, client, cfg.Workers, plan, stats); err != nil {
		return stats, fmt.Errorf("event submission failed: %w", err)
	}
	log.Info(ctx, "event submission completed",
		logger.Int("deliveries", stats.Deliveries),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("corroborated", stats.Corroborated),
		logger.Int("quarantined", stats.Quarantined))

	if err := verify(ctx, client, cfg, plan, stats); err != nil {
		return stats, err
	}

	if cfg.OutputFile != "" {
		if err := savePlan(cfg.OutputFile, plan); err != nil {
			log.Warn(ctx, "failed to save plan", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	if len(stats.Mismatches) > 0 {
		return stats, fmt.Errorf("%d mismatches, first: %s", len(stats.Mismatches), stats.Mismatches[0])
	}
	return stats, nil
}

// submit sends every match concurrently. Deliveries within a match keep
// their order so the match clock only moves forward.
func submit(ctx context.Context, client *HTTPClient, workers int, plan *Plan, stats *Stats) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, mp := range plan.Matches {
		g.Go(func() error {
			if err := client.Schedule(ctx, mp.Info); err != nil {
				return err
			}
			for _, d := range mp.Deliveries {
				status, err := client.Submit(ctx, d.Event)
				mu.Lock()
				stats.Deliveries++
				switch d.Want {
				case "DUPLICATE":
					stats.ExpectedDuplicate++
				case "CORROBORATED":
					stats.ExpectedCorroborated++
				}
				switch {
				case err != nil:
					stats.Failed++
				case status == "ACCEPTED":
					stats.Accepted++
				case status == "DUPLICATE":
					stats.Duplicate++
				case status == "CORROBORATED":
					stats.Corroborated++
				case status == "QUARANTINED":
					stats.Quarantined++
				}
				if err == nil && status != d.Want {
					stats.Mismatches = append(stats.Mismatches,
						fmt.Sprintf("%s: got %s, want %s", d.Event.IdempotencyKey(), status, d.Want))
				}
				mu.Unlock()
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func savePlan(filename string, plan *Plan) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, filePermission)
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Deliveries) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("deliveries", stats.Deliveries),
		logger.Int("failed", stats.Failed),
		logger.Int("matchesVerified", stats.MatchesVerified),
		logger.Int("mismatches", len(stats.Mismatches)),
		logger.Duration("duration", stats.Duration),
		logger.Float64("deliveriesPerSecond", perSecond))
}
