// Package scoring evaluates versioned, data-driven rulesets against
// canonical events.
package scoring

import (
	"fmt"
	"strings"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/scoring/condition"
	"github.com/shopspring/decimal"
)

// Evaluator computes point deltas for an event.
type Evaluator interface {
	Evaluate(ev model.CanonicalEvent, mc *MatchContext, rs *RuleSet) ([]model.PointDelta, error)
}

// Engine is the default Evaluator. It holds no state: identical inputs
// always yield identical outputs.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine { return &Engine{} }

// Evaluate fires every rule matching the event, in ruleset order, followed
// by each rule's bonus thresholds. Any failure aborts the whole event so a
// partially scored event never reaches the ledger.
func (e *Engine) Evaluate(ev model.CanonicalEvent, mc *MatchContext, rs *RuleSet) ([]model.PointDelta, error) {
	if rs == nil {
		return nil, &model.RuleEvaluationError{RuleID: "*", Err: ErrRulesetNotFound}
	}
	if mc == nil {
		mc = NewMatchContext()
	}
	b := bindings{ev: ev, ctx: mc}

	var out []model.PointDelta
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.EventType != ev.EventType {
			continue
		}
		if r.cond != nil {
			ok, err := condition.Evaluate(r.cond, b)
			if err != nil {
				return nil, &model.RuleEvaluationError{RuleID: r.ID, Err: err}
			}
			if !ok {
				continue
			}
		}
		pts, how, err := r.Weight.apply(r.BasePoints, b)
		if err != nil {
			return nil, &model.RuleEvaluationError{RuleID: r.ID, Err: err}
		}
		out = append(out, e.delta(ev, rs, r.ID, pts, fmt.Sprintf("%s %s: %s", r.ID, ev.EventType, how)))

		running := mc.Count(ev.PlayerID, ev.EventType) + 1
		for _, bonus := range r.Bonuses {
			if bonus.Count != running {
				continue
			}
			desc := bonus.Description
			if desc == "" {
				desc = fmt.Sprintf("%d x %s", bonus.Count, ev.EventType)
			}
			out = append(out, e.delta(ev, rs, bonusRuleID(r.ID, bonus.Count), bonus.Points,
				fmt.Sprintf("%s bonus: %s = %s", r.ID, desc, bonus.Points.String())))
		}
	}
	return out, nil
}

func (e *Engine) delta(ev model.CanonicalEvent, rs *RuleSet, ruleID string, pts decimal.Decimal, explanation string) model.PointDelta {
	return model.PointDelta{
		MatchID:               ev.MatchID,
		PlayerID:              ev.PlayerID,
		RuleID:                ruleID,
		Points:                pts,
		Explanation:           explanation,
		AppliedRulesetVersion: rs.Version,
		EventSequence:         ev.SequenceNumber,
		EventID:               ev.EventID,
	}
}

// apply scales base and describes how. A nil weight scales by 1.
func (w *WeightSpec) apply(base decimal.Decimal, b bindings) (decimal.Decimal, string, error) {
	if w == nil {
		return base, base.String() + " base", nil
	}
	if w.Kind == WeightConstant {
		pts := base.Mul(w.Value)
		return pts, fmt.Sprintf("%s base x %s = %s", base, w.Value, pts), nil
	}

	raw, ok := b.Resolve(strings.Split(w.Input, "."))
	if !ok {
		return decimal.Zero, "", fmt.Errorf("%w: %s", ErrMissingInput, w.Input)
	}
	in, ok := condition.Number(raw)
	if !ok {
		return decimal.Zero, "", fmt.Errorf("%w: %s is not numeric (%v)", ErrMissingInput, w.Input, raw)
	}

	var mult decimal.Decimal
	switch w.Kind {
	case WeightLinear:
		mult = w.Offset.Add(w.Factor.Mul(in))
	case WeightStep:
		mult = decimal.Zero
		for _, s := range w.Steps {
			if s.Min.GreaterThan(in) {
				break
			}
			mult = s.Multiplier
		}
	default:
		return decimal.Zero, "", fmt.Errorf("unknown weight kind %q", w.Kind)
	}
	pts := base.Mul(mult)
	return pts, fmt.Sprintf("%s base x %s (%s %s=%s) = %s", base, mult, w.Kind, w.Input, in, pts), nil
}
