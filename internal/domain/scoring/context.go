package scoring

import (
	"strconv"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/shopspring/decimal"
)

// PlayerAggregate is a player's running state within one match.
type PlayerAggregate struct {
	Counts map[string]int64
	Points decimal.Decimal
}

// MatchContext is the fold of a match ledger up to, but not including, the
// event being evaluated.
type MatchContext struct {
	Minute  int
	Events  int64
	Players map[string]*PlayerAggregate
}

// NewMatchContext returns an empty context.
func NewMatchContext() *MatchContext {
	return &MatchContext{Players: make(map[string]*PlayerAggregate)}
}

func (c *MatchContext) player(id string) *PlayerAggregate {
	p, ok := c.Players[id]
	if !ok {
		p = &PlayerAggregate{Counts: make(map[string]int64)}
		c.Players[id] = p
	}
	return p
}

// Count returns the player's running count for an event type.
func (c *MatchContext) Count(playerID, eventType string) int64 {
	if p, ok := c.Players[playerID]; ok {
		return p.Counts[eventType]
	}
	return 0
}

// Observe folds a scored event and its deltas into the context.
func (c *MatchContext) Observe(ev model.CanonicalEvent, deltas []model.PointDelta) {
	c.Events++
	if ev.Minute > c.Minute {
		c.Minute = ev.Minute
	}
	if ev.PlayerID != "" {
		c.player(ev.PlayerID).Counts[ev.EventType]++
	}
	for _, d := range deltas {
		c.AddPoints(d.PlayerID, d.Points)
	}
}

// AddPoints adjusts a player's running points.
func (c *MatchContext) AddPoints(playerID string, pts decimal.Decimal) {
	p := c.player(playerID)
	p.Points = p.Points.Add(pts)
}

// bindings resolves condition paths for one evaluation.
type bindings struct {
	ev  model.CanonicalEvent
	ctx *MatchContext
}

func (b bindings) Resolve(path []string) (any, bool) {
	if len(path) < 2 {
		return nil, false
	}
	switch path[0] {
	case "event":
		return b.event(path[1:])
	case "player":
		switch {
		case len(path) == 3 && path[1] == "count":
			return b.ctx.Count(b.ev.PlayerID, path[2]), true
		case len(path) == 2 && path[1] == "points":
			if p, ok := b.ctx.Players[b.ev.PlayerID]; ok {
				return p.Points, true
			}
			return decimal.Zero, true
		}
	case "match":
		if len(path) != 2 {
			return nil, false
		}
		switch path[1] {
		case "minute":
			return b.ctx.Minute, true
		case "events":
			return b.ctx.Events, true
		}
	}
	return nil, false
}

func (b bindings) event(path []string) (any, bool) {
	if len(path) == 2 && path[0] == "metadata" {
		v, ok := b.ev.Metadata[path[1]]
		return v, ok
	}
	if len(path) != 1 {
		return nil, false
	}
	switch path[0] {
	case "type":
		return b.ev.EventType, true
	case "minute":
		return b.ev.Minute, true
	case "player":
		return b.ev.PlayerID, true
	case "provider":
		return b.ev.ProviderID, true
	case "sport":
		return b.ev.SportID, true
	case "sequence":
		return b.ev.SequenceNumber, true
	}
	return nil, false
}

func bonusRuleID(ruleID string, count int64) string {
	return ruleID + "@" + strconv.FormatInt(count, 10)
}
