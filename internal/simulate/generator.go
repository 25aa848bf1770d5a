package simulate

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/scoring"
)

var kickoff = time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)

// Delivery is one event as a provider sends it, with the receipt status the
// server should answer.
type Delivery struct {
	Event model.CanonicalEvent `json:"event"`
	Want  string               `json:"want"`
}

// MatchPlan is the feed of one match and its expected totals.
type MatchPlan struct {
	Info       model.MatchInfo    `json:"info"`
	Deliveries []Delivery         `json:"deliveries"`
	Expected   model.PlayerTotals `json:"expected"`
}

// Plan is a generated simulation.
type Plan struct {
	RunID    string                     `json:"run_id"`
	SeasonID string                     `json:"season_id"`
	Matches  []MatchPlan                `json:"matches"`
	Season   map[string]decimal.Decimal `json:"season"`
}

// Generate builds a feed for cfg scored under rs. Identifiers are prefixed
// with a fresh run id so repeated runs against one server never collide;
// everything else is a function of cfg.Seed.
func Generate(cfg *Config, rs *scoring.RuleSet) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	types := eventTypes(rs)
	if len(types) == 0 {
		return nil, fmt.Errorf("ruleset %s v%d scores no player events", rs.SportID, rs.Version)
	}

	run := uuid.NewString()[:8]
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	plan := &Plan{
		RunID:    run,
		SeasonID: "sim-" + run,
		Season:   make(map[string]decimal.Decimal),
	}
	engine := scoring.NewEngine()

	for m := 0; m < cfg.Matches; m++ {
		mp := MatchPlan{
			Info: model.MatchInfo{
				MatchID:        fmt.Sprintf("sim-%s-m%d", run, m+1),
				SportID:        rs.SportID,
				LeagueID:       "sim",
				SeasonID:       plan.SeasonID,
				RoundID:        fmt.Sprintf("r%d", m+1),
				RulesetVersion: rs.Version,
			},
			Expected: make(model.PlayerTotals),
		}
		mc := scoring.NewMatchContext()
		minute := 0

		for i := 0; i < cfg.EventsPerMatch; i++ {
			// Facts sit at least two minutes apart so a corroborating
			// report can only match its own fact.
			minute = 1 + i*minuteStride + rng.IntN(2)
			primary := cfg.Providers[rng.IntN(len(cfg.Providers))]
			ev := model.CanonicalEvent{
				EventID:    fmt.Sprintf("%s-%s-e%d", mp.Info.MatchID, primary, i+1),
				MatchID:    mp.Info.MatchID,
				PlayerID:   fmt.Sprintf("sim-%s-p%d", run, rng.IntN(cfg.Players)+1),
				SportID:    rs.SportID,
				EventType:  types[rng.IntN(len(types))],
				Timestamp:  kickoff.Add(time.Duration(minute) * time.Minute),
				Minute:     minute,
				ProviderID: primary,
			}

			scored := ev
			scored.SequenceNumber = mc.Events + 1
			deltas, err := engine.Evaluate(scored, mc, rs)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", ev.EventID, err)
			}
			mc.Observe(scored, deltas)
			for _, d := range deltas {
				mp.Expected[d.PlayerID] = mp.Expected[d.PlayerID].Add(d.Points)
			}

			mp.Deliveries = append(mp.Deliveries, Delivery{Event: ev, Want: "ACCEPTED"})
			if rng.Float64() < cfg.RedeliveryRate {
				mp.Deliveries = append(mp.Deliveries, Delivery{Event: ev, Want: "DUPLICATE"})
			}
			if len(cfg.Providers) > 1 && rng.Float64() < cfg.CorroborateRate {
				other := ev
				other.ProviderID = pickOther(rng, cfg.Providers, primary)
				other.EventID = fmt.Sprintf("%s-%s-e%d", mp.Info.MatchID, other.ProviderID, i+1)
				mp.Deliveries = append(mp.Deliveries, Delivery{Event: other, Want: "CORROBORATED"})
			}
		}

		end := model.CanonicalEvent{
			EventID:    mp.Info.MatchID + "-end",
			MatchID:    mp.Info.MatchID,
			SportID:    rs.SportID,
			EventType:  model.EventMatchEnd,
			Timestamp:  kickoff.Add(time.Duration(minute+1) * time.Minute),
			Minute:     minute + 1,
			ProviderID: cfg.Providers[0],
		}
		mp.Deliveries = append(mp.Deliveries, Delivery{Event: end, Want: "ACCEPTED"})

		for p, pts := range mp.Expected {
			plan.Season[p] = plan.Season[p].Add(pts)
		}
		plan.Matches = append(plan.Matches, mp)
	}
	return plan, nil
}

// eventTypes lists the distinct player event types rs scores, in rule order.
func eventTypes(rs *scoring.RuleSet) []string {
	var out []string
	for _, r := range rs.Rules {
		if r.EventType == model.EventMatchStart || r.EventType == model.EventMatchEnd {
			continue
		}
		if !slices.Contains(out, r.EventType) {
			out = append(out, r.EventType)
		}
	}
	return out
}

func pickOther(rng *rand.Rand, providers []string, not string) string {
	for {
		if p := providers[rng.IntN(len(providers))]; p != not {
			return p
		}
	}
}
