package model

// MatchState is the lifecycle state of a match.
type MatchState string

// Match states. UNDER_REVIEW is an overlay tracked separately as a set of reasons.
const (
	StateScheduled  MatchState = "SCHEDULED"
	StateInProgress MatchState = "IN_PROGRESS"
	StateFinished   MatchState = "FINISHED"
	StateResolved   MatchState = "RESOLVED"

	StateUnderReview = "UNDER_REVIEW"
)

// Review reasons raised by the engine itself.
const (
	ReviewRuleEvaluation = "rule_evaluation"
	ReviewCorrectionPfx  = "correction:"
)

var allowedTransitions = map[MatchState][]MatchState{
	StateScheduled:  {StateInProgress},
	StateInProgress: {StateFinished},
	StateFinished:   {StateResolved},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to MatchState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MatchInfo describes a scheduled match and its pinned ruleset.
type MatchInfo struct {
	MatchID        string `json:"match_id"`
	SportID        string `json:"sport_id"`
	LeagueID       string `json:"league_id,omitempty"`
	SeasonID       string `json:"season_id,omitempty"`
	RoundID        string `json:"round_id,omitempty"`
	RulesetVersion int    `json:"ruleset_version"`
}
