// Package projection folds match ledgers into read models: per-match player
// lines, per-player season totals and season standings.
package projection

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
)

// BreakdownItem is one delta as it contributes to a player line.
type BreakdownItem struct {
	LedgerSequence int64           `json:"ledger_sequence"`
	EventSequence  int64           `json:"event_sequence"`
	EventID        string          `json:"event_id"`
	RuleID         string          `json:"rule_id"`
	Points         decimal.Decimal `json:"points"`
	Explanation    string          `json:"explanation"`
	RulesetVersion int             `json:"ruleset_version"`
	Compensates    int64           `json:"compensates,omitempty"`
	CorrectionID   string          `json:"correction_id,omitempty"`
}

// PlayerLine is a player's total in one match with its breakdown in ledger order.
type PlayerLine struct {
	PlayerID  string          `json:"player_id"`
	Total     decimal.Decimal `json:"total"`
	Breakdown []BreakdownItem `json:"breakdown"`
}

// MatchProjection is the fold of a match ledger up to LedgerVersion.
type MatchProjection struct {
	MatchID        string                 `json:"match_id"`
	SportID        string                 `json:"sport_id"`
	LeagueID       string                 `json:"league_id,omitempty"`
	SeasonID       string                 `json:"season_id,omitempty"`
	RoundID        string                 `json:"round_id,omitempty"`
	RulesetVersion int                    `json:"ruleset_version"`
	State          model.MatchState       `json:"state"`
	Reviews        []string               `json:"reviews,omitempty"`
	Events         int64                  `json:"events"`
	Unscored       []int64                `json:"unscored,omitempty"`
	Corrections    []string               `json:"corrections,omitempty"`
	Players        map[string]*PlayerLine `json:"players"`
	LedgerVersion  int64                  `json:"ledger_version"`
	HeadHash       string                 `json:"head_hash"`
	// Stale is set when the ledger could not be folded to its head and the
	// projection stops at the last verifiable entry.
	Stale bool `json:"stale,omitempty"`
}

// NewMatchProjection returns the empty projection of a match.
func NewMatchProjection(matchID string) *MatchProjection {
	return &MatchProjection{MatchID: matchID, Players: make(map[string]*PlayerLine)}
}

// Apply folds the next ledger entry. The entry must chain onto the
// projection's head; a gap or hash mismatch leaves the projection untouched.
func (p *MatchProjection) Apply(e ledger.Entry) error {
	var prev *ledger.Entry
	if p.LedgerVersion > 0 {
		prev = &ledger.Entry{Seq: p.LedgerVersion, Hash: p.HeadHash}
	}
	if err := ledger.VerifyLink(prev, e); err != nil {
		return err
	}

	switch e.Kind {
	case ledger.KindSchedule:
		if s := e.Schedule; s != nil {
			p.SportID, p.LeagueID, p.SeasonID, p.RoundID = s.SportID, s.LeagueID, s.SeasonID, s.RoundID
			p.RulesetVersion = s.RulesetVersion
			p.State = model.StateScheduled
		}
	case ledger.KindEvent:
		p.Events++
	case ledger.KindDelta, ledger.KindCompensation:
		if d := e.Delta; d != nil {
			p.addDelta(*d)
		}
	case ledger.KindTransition:
		if t := e.Transition; t != nil {
			p.State = t.To
		}
	case ledger.KindReview:
		if r := e.Review; r != nil {
			p.setReview(r.Reason, r.Active)
		}
	case ledger.KindUnscored:
		if u := e.Unscored; u != nil {
			p.setUnscored(u.EventSequence, !u.Cleared)
		}
	case ledger.KindCorrection:
		if c := e.Correction; c != nil {
			p.Corrections = append(p.Corrections, c.CorrectionID)
		}
	case ledger.KindRepin:
		if r := e.Repin; r != nil {
			p.RulesetVersion = r.To
		}
	}

	p.LedgerVersion = e.Seq
	p.HeadHash = e.Hash
	return nil
}

func (p *MatchProjection) addDelta(d model.PointDelta) {
	line, ok := p.Players[d.PlayerID]
	if !ok {
		line = &PlayerLine{PlayerID: d.PlayerID}
		p.Players[d.PlayerID] = line
	}
	line.Total = line.Total.Add(d.Points)
	line.Breakdown = append(line.Breakdown, BreakdownItem{
		LedgerSequence: d.LedgerSequence,
		EventSequence:  d.EventSequence,
		EventID:        d.EventID,
		RuleID:         d.RuleID,
		Points:         d.Points,
		Explanation:    d.Explanation,
		RulesetVersion: d.AppliedRulesetVersion,
		Compensates:    d.Compensates,
		CorrectionID:   d.CorrectionID,
	})
}

func (p *MatchProjection) setReview(reason string, active bool) {
	for i, r := range p.Reviews {
		if r == reason {
			if !active {
				p.Reviews = append(p.Reviews[:i:i], p.Reviews[i+1:]...)
			}
			return
		}
	}
	if active {
		p.Reviews = append(p.Reviews, reason)
		sort.Strings(p.Reviews)
	}
}

// setUnscored keeps Unscored sorted and free of repeats.
func (p *MatchProjection) setUnscored(seq int64, active bool) {
	i := sort.Search(len(p.Unscored), func(i int) bool { return p.Unscored[i] >= seq })
	present := i < len(p.Unscored) && p.Unscored[i] == seq
	switch {
	case active && !present:
		p.Unscored = append(p.Unscored, 0)
		copy(p.Unscored[i+1:], p.Unscored[i:])
		p.Unscored[i] = seq
	case !active && present:
		p.Unscored = append(p.Unscored[:i:i], p.Unscored[i+1:]...)
	}
}

// UnderReview reports whether any review reason is open.
func (p *MatchProjection) UnderReview() bool { return len(p.Reviews) > 0 }

// Totals returns each player's match total.
func (p *MatchProjection) Totals() model.PlayerTotals {
	out := make(model.PlayerTotals, len(p.Players))
	for id, line := range p.Players {
		out[id] = line.Total
	}
	return out
}

// Clone returns a deep copy.
func (p *MatchProjection) Clone() *MatchProjection {
	c := *p
	c.Reviews = append([]string(nil), p.Reviews...)
	c.Unscored = append([]int64(nil), p.Unscored...)
	c.Corrections = append([]string(nil), p.Corrections...)
	c.Players = make(map[string]*PlayerLine, len(p.Players))
	for id, line := range p.Players {
		l := *line
		l.Breakdown = append([]BreakdownItem(nil), line.Breakdown...)
		c.Players[id] = &l
	}
	return &c
}

// Canonical returns the deterministic JSON form used to compare projections.
// Map keys are sorted by encoding/json and breakdowns follow ledger order.
func (p *MatchProjection) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Fold builds a projection from a ledger prefix starting at genesis.
func Fold(matchID string, entries []ledger.Entry) (*MatchProjection, error) {
	p := NewMatchProjection(matchID)
	for _, e := range entries {
		if err := p.Apply(e); err != nil {
			return p, err
		}
	}
	return p, nil
}
