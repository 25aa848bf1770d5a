package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/okian/matchday/internal/domain/scoring/condition"
	"github.com/shopspring/decimal"
)

// WeightKind selects how a rule's base points are scaled.
type WeightKind string

// Weight kinds.
const (
	WeightConstant WeightKind = "constant"
	WeightLinear   WeightKind = "linear"
	WeightStep     WeightKind = "step"
)

// Step is one band of a step weight.
type Step struct {
	Min        decimal.Decimal `json:"min" yaml:"min"`
	Multiplier decimal.Decimal `json:"multiplier" yaml:"multiplier"`
}

// WeightSpec scales base points. Input is a condition path such as
// event.minute or event.metadata.distance.
//
//	constant: base * Value
//	linear:   base * (Offset + Factor*input)
//	step:     base * multiplier of the highest step with Min <= input
type WeightSpec struct {
	Kind   WeightKind      `json:"kind" yaml:"kind"`
	Input  string          `json:"input,omitempty" yaml:"input,omitempty"`
	Value  decimal.Decimal `json:"value" yaml:"value"`
	Offset decimal.Decimal `json:"offset" yaml:"offset"`
	Factor decimal.Decimal `json:"factor" yaml:"factor"`
	Steps  []Step          `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// BonusThreshold awards Points when the player's running count of the
// rule's event type, including the current event, reaches exactly Count.
type BonusThreshold struct {
	Count       int64           `json:"count" yaml:"count"`
	Points      decimal.Decimal `json:"points" yaml:"points"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// Rule maps one event type to points.
type Rule struct {
	ID         string           `json:"id" yaml:"id"`
	EventType  string           `json:"event_type" yaml:"event_type"`
	BasePoints decimal.Decimal  `json:"base_points" yaml:"base_points"`
	Condition  string           `json:"condition,omitempty" yaml:"condition,omitempty"`
	Weight     *WeightSpec      `json:"weight,omitempty" yaml:"weight,omitempty"`
	Bonuses    []BonusThreshold `json:"bonuses,omitempty" yaml:"bonuses,omitempty"`

	cond condition.Expr
}

// RuleSet is a versioned, sport-scoped collection of rules.
type RuleSet struct {
	SportID string `json:"sport_id" yaml:"sport_id"`
	Version int    `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

var knownRoots = map[string]bool{"event": true, "player": true, "match": true}

// compile validates the ruleset and parses every condition.
func (rs *RuleSet) compile() error {
	rs.SportID = strings.ToLower(strings.TrimSpace(rs.SportID))
	if rs.SportID == "" {
		return fmt.Errorf("%w: sport_id required", ErrInvalidRuleset)
	}
	if rs.Version <= 0 {
		return fmt.Errorf("%w: version must be positive", ErrInvalidRuleset)
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		r.EventType = strings.ToUpper(strings.TrimSpace(r.EventType))
		if r.ID == "" || r.EventType == "" {
			return fmt.Errorf("%w: rule %d needs id and event_type", ErrInvalidRuleset, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRuleset, r.ID)
		}
		seen[r.ID] = true
		if r.Condition != "" {
			expr, err := condition.Parse(r.Condition)
			if err != nil {
				return fmt.Errorf("%w: rule %s condition: %v", ErrInvalidRuleset, r.ID, err)
			}
			for _, f := range condition.Fields(expr) {
				if !knownRoots[strings.SplitN(f, ".", 2)[0]] {
					return fmt.Errorf("%w: rule %s references unknown field %q", ErrInvalidRuleset, r.ID, f)
				}
			}
			r.cond = expr
		}
		if err := r.Weight.validate(); err != nil {
			return fmt.Errorf("%w: rule %s weight: %v", ErrInvalidRuleset, r.ID, err)
		}
		for _, b := range r.Bonuses {
			if b.Count <= 0 {
				return fmt.Errorf("%w: rule %s bonus count must be positive", ErrInvalidRuleset, r.ID)
			}
		}
	}
	return nil
}

func (w *WeightSpec) validate() error {
	if w == nil {
		return nil
	}
	switch w.Kind {
	case WeightConstant:
		return nil
	case WeightLinear, WeightStep:
		if w.Input == "" {
			return fmt.Errorf("%s weight needs an input path", w.Kind)
		}
		if w.Kind == WeightStep {
			if len(w.Steps) == 0 {
				return fmt.Errorf("step weight needs at least one step")
			}
			if !sort.SliceIsSorted(w.Steps, func(i, j int) bool { return w.Steps[i].Min.LessThan(w.Steps[j].Min) }) {
				return fmt.Errorf("steps must be sorted by min")
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", w.Kind)
	}
}

// Digest returns a content hash used to enforce immutability of published versions.
func (rs *RuleSet) Digest() string {
	b, _ := json.Marshal(rs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
