package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/model"
)

// ErrInvalidLimit is returned for non-positive standings limits.
var ErrInvalidLimit = errors.New("invalid standings limit")

// PlayerSeasonProjection is a player's season total across matches.
type PlayerSeasonProjection struct {
	PlayerID string                     `json:"player_id"`
	SeasonID string                     `json:"season_id"`
	Total    decimal.Decimal            `json:"total"`
	Matches  map[string]decimal.Decimal `json:"matches"`
}

func (s *PlayerSeasonProjection) set(matchID string, total decimal.Decimal) {
	s.Matches[matchID] = total
	sum := decimal.Zero
	for _, v := range s.Matches {
		sum = sum.Add(v)
	}
	s.Total = sum
}

func (s *PlayerSeasonProjection) clone() PlayerSeasonProjection {
	c := *s
	c.Matches = make(map[string]decimal.Decimal, len(s.Matches))
	for k, v := range s.Matches {
		c.Matches[k] = v
	}
	return c
}

// Standing is a player's position in a season table. Equal totals share a rank.
type Standing struct {
	Rank     int             `json:"rank"`
	PlayerID string          `json:"player_id"`
	SeasonID string          `json:"season_id"`
	Total    decimal.Decimal `json:"total"`
}

// Standings indexes season totals for ranked reads.
type Standings interface {
	// Set replaces the player's season total.
	Set(ctx context.Context, seasonID, playerID string, total decimal.Decimal) error
	// Rank returns a player's standing; model.ErrNotFound when unranked.
	Rank(ctx context.Context, seasonID, playerID string) (Standing, error)
	// TopN returns the best n standings, highest total first.
	TopN(ctx context.Context, seasonID string, n int) ([]Standing, error)
	Count(ctx context.Context, seasonID string) int
}

// sortedStandings ranks a season map directly when no index is configured.
type sortedStandings struct {
	b *Builder
}

func (s sortedStandings) Set(context.Context, string, string, decimal.Decimal) error { return nil }

func (s sortedStandings) all(seasonID string) []Standing {
	s.b.mu.RLock()
	players := s.b.seasons[seasonID]
	out := make([]Standing, 0, len(players))
	for id, ps := range players {
		out = append(out, Standing{PlayerID: id, SeasonID: seasonID, Total: ps.Total})
	}
	s.b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	for i := range out {
		out[i].Rank = i + 1
		if i > 0 && out[i].Total.Equal(out[i-1].Total) {
			out[i].Rank = out[i-1].Rank
		}
	}
	return out
}

func (s sortedStandings) Rank(_ context.Context, seasonID, playerID string) (Standing, error) {
	for _, st := range s.all(seasonID) {
		if st.PlayerID == playerID {
			return st, nil
		}
	}
	return Standing{}, fmt.Errorf("%w: player %s in season %s", model.ErrNotFound, playerID, seasonID)
}

func (s sortedStandings) TopN(_ context.Context, seasonID string, n int) ([]Standing, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	all := s.all(seasonID)
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (s sortedStandings) Count(_ context.Context, seasonID string) int {
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	return len(s.b.seasons[seasonID])
}
