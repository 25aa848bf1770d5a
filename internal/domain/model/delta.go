package model

import "github.com/shopspring/decimal"

// PointDelta is one rule's contribution to a player's match total. A
// compensating delta uses the same shape: Compensates names the ledger
// sequence of the delta it offsets and CorrectionID the correction that
// produced it.
type PointDelta struct {
	LedgerSequence        int64           `json:"ledger_sequence"`
	MatchID               string          `json:"match_id"`
	PlayerID              string          `json:"player_id"`
	RuleID                string          `json:"rule_id"`
	Points                decimal.Decimal `json:"points"`
	Explanation           string          `json:"explanation"`
	AppliedRulesetVersion int             `json:"applied_ruleset_version"`
	EventSequence         int64           `json:"event_sequence"`
	EventID               string          `json:"event_id"`
	Compensates           int64           `json:"compensates,omitempty"`
	CorrectionID          string          `json:"correction_id,omitempty"`
}

// IsCompensating reports whether the delta was appended by a correction.
func (d PointDelta) IsCompensating() bool {
	return d.CorrectionID != ""
}

// DeltaKey identifies the (event, rule, player) cell a delta contributes to.
type DeltaKey struct {
	EventSequence int64
	RuleID        string
	PlayerID      string
}

// Key returns the contribution cell of the delta.
func (d PointDelta) Key() DeltaKey {
	return DeltaKey{EventSequence: d.EventSequence, RuleID: d.RuleID, PlayerID: d.PlayerID}
}

// Less orders keys by event sequence, rule, then player.
func (k DeltaKey) Less(o DeltaKey) bool {
	if k.EventSequence != o.EventSequence {
		return k.EventSequence < o.EventSequence
	}
	if k.RuleID != o.RuleID {
		return k.RuleID < o.RuleID
	}
	return k.PlayerID < o.PlayerID
}

// PlayerTotals maps player ids to point totals.
type PlayerTotals map[string]decimal.Decimal
