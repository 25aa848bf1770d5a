package resolver

import (
	"errors"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/scoring"
)

// replayer folds events through the rule engine. Live scoring and every
// recomputation use it, so both produce the same deltas for the same prefix.
type replayer struct {
	engine scoring.Evaluator
	rs     *scoring.RuleSet
	ctx    *scoring.MatchContext
}

func newReplayer(engine scoring.Evaluator, rs *scoring.RuleSet) *replayer {
	return &replayer{engine: engine, rs: rs, ctx: scoring.NewMatchContext()}
}

// step evaluates ev against the context of all prior steps. An event that
// fails evaluation is left out of the context.
func (r *replayer) step(ev model.CanonicalEvent) ([]model.PointDelta, error) {
	if ev.IsLifecycle() {
		r.ctx.Observe(ev, nil)
		return nil, nil
	}
	deltas, err := r.engine.Evaluate(ev, r.ctx, r.rs)
	if err != nil {
		return nil, err
	}
	r.ctx.Observe(ev, deltas)
	return deltas, nil
}

// outcome is the full recomputation of a match.
type outcome struct {
	targets  map[model.DeltaKey]model.PointDelta
	failures map[int64]*model.RuleEvaluationError
	replayer *replayer
}

// recompute replays events from genesis.
func recompute(engine scoring.Evaluator, rs *scoring.RuleSet, events []model.CanonicalEvent) outcome {
	out := outcome{
		targets:  make(map[model.DeltaKey]model.PointDelta),
		failures: make(map[int64]*model.RuleEvaluationError),
		replayer: newReplayer(engine, rs),
	}
	for _, ev := range events {
		deltas, err := out.replayer.step(ev)
		if err != nil {
			var rerr *model.RuleEvaluationError
			if !errors.As(err, &rerr) {
				rerr = &model.RuleEvaluationError{RuleID: "*", Err: err}
			}
			out.failures[ev.SequenceNumber] = rerr
			continue
		}
		for _, d := range deltas {
			k := d.Key()
			if prev, ok := out.targets[k]; ok {
				d.Points = d.Points.Add(prev.Points)
			}
			out.targets[k] = d
		}
	}
	return out
}
