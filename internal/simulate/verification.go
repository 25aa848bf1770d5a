package simulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/model"
)

const pollInterval = 100 * time.Millisecond

// verify compares every match projection and the season leaderboard with
// the plan, polling until they agree or SettleTimeout passes.
func verify(ctx context.Context, client *HTTPClient, cfg *Config, plan *Plan, stats *Stats) error {
	deadline := time.Now().Add(cfg.SettleTimeout)

	for _, mp := range plan.Matches {
		for {
			got, err := client.MatchTotals(ctx, mp.Info.MatchID)
			if err != nil {
				return err
			}
			diff := compareTotals(mp.Expected, got)
			if diff == "" {
				stats.MatchesVerified++
				break
			}
			if time.Now().After(deadline) {
				stats.Mismatches = append(stats.Mismatches, fmt.Sprintf("%s: %s", mp.Info.MatchID, diff))
				break
			}
			if err := sleep(ctx, pollInterval); err != nil {
				return err
			}
		}
	}

	if cfg.TopN < 1 {
		return nil
	}
	rows, err := client.Leaderboard(ctx, plan.SeasonID, cfg.TopN)
	if err != nil {
		return err
	}
	want := expectedStandings(plan.Season, cfg.TopN)
	if len(rows) != len(want) {
		stats.Mismatches = append(stats.Mismatches,
			fmt.Sprintf("leaderboard: %d rows, want %d", len(rows), len(want)))
		return nil
	}
	for i, row := range rows {
		if !row.Total.Equal(want[i].Total) || row.Rank != want[i].Rank {
			stats.Mismatches = append(stats.Mismatches,
				fmt.Sprintf("leaderboard row %d: %s rank %d total %s, want rank %d total %s",
					i+1, row.PlayerID, row.Rank, row.Total, want[i].Rank, want[i].Total))
		}
	}
	return nil
}

// compareTotals describes the first difference between two totals maps. A
// player missing from one side counts as zero.
func compareTotals(want, got model.PlayerTotals) string {
	ids := make(map[string]bool, len(want)+len(got))
	for id := range want {
		ids[id] = true
	}
	for id := range got {
		ids[id] = true
	}
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	for _, id := range keys {
		if !want[id].Equal(got[id]) {
			return fmt.Sprintf("%s total %s, want %s", id, got[id], want[id])
		}
	}
	return ""
}

// expectedStandings ranks season totals highest first; equal totals share a
// rank and the next distinct total skips past them.
func expectedStandings(season map[string]decimal.Decimal, n int) []Standing {
	rows := make([]Standing, 0, len(season))
	for id, total := range season {
		rows = append(rows, Standing{PlayerID: id, Total: total})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Total.Cmp(rows[j].Total); c != 0 {
			return c > 0
		}
		return rows[i].PlayerID < rows[j].PlayerID
	})
	for i := range rows {
		if i > 0 && rows[i].Total.Equal(rows[i-1].Total) {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = i + 1
		}
	}
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
