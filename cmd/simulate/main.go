package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/matchday/internal/simulate"
	"github.com/okian/matchday/pkg/logger"
)

// Default configuration constants.
const (
	defaultMatches        = 20
	defaultPlayers        = 40
	defaultEventsPerMatch = 30
	defaultTopN           = 10
	defaultTimeout        = 30 * time.Second
	defaultSettle         = 10 * time.Second
	defaultRunTimeout     = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:9080", "Base URL of the service")
		rulesDir    = flag.String("rules", "rules", "Ruleset directory shared with the server")
		sport       = flag.String("sport", "football", "Sport to simulate")
		matches     = flag.Int("matches", defaultMatches, "Number of matches")
		players     = flag.Int("players", defaultPlayers, "Size of the player pool")
		events      = flag.Int("events", defaultEventsPerMatch, "Scored facts per match")
		providers   = flag.String("providers", "opta,statsperform,sportradar", "Comma separated provider ids")
		corroborate = flag.Float64("corroborate", 0.4, "Chance a second provider reports a fact")
		redeliver   = flag.Float64("redeliver", 0.1, "Chance a delivery is sent twice")
		seed        = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed")
		workers     = flag.Int("workers", runtime.NumCPU(), "Matches submitted concurrently")
		topN        = flag.Int("top", defaultTopN, "Leaderboard rows to verify")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle      = flag.Duration("settle", defaultSettle, "How long to wait for projections to agree")
		output      = flag.String("output", "", "Write the generated plan to this file")
		verbose     = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:         strings.TrimRight(*baseURL, "/"),
		RulesDir:        *rulesDir,
		Sport:           *sport,
		Matches:         *matches,
		Players:         *players,
		EventsPerMatch:  *events,
		Providers:       strings.Split(*providers, ","),
		CorroborateRate: *corroborate,
		RedeliveryRate:  *redeliver,
		Seed:            *seed,
		Workers:         *workers,
		Timeout:         *timeout,
		SettleTimeout:   *settle,
		OutputFile:      *output,
		TopN:            *topN,
	}

	if _, err := simulate.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("simulation failed: " + err.Error() + "\n")
		cancel()
		stop()
		os.Exit(1)
	}
}
