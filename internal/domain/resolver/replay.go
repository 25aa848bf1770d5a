package resolver

import (
	"context"
	"fmt"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
)

// ReplayReport compares a ledger with one regenerated from its inputs.
type ReplayReport struct {
	MatchID string `json:"match_id"`
	Entries int    `json:"entries"`
	Events  int    `json:"events"`
	// ChainBreak is the first entry failing hash verification, or 0.
	ChainBreak int64 `json:"chain_break,omitempty"`
	// Divergence is the first entry that replay produced differently, or 0.
	Divergence int64  `json:"divergence,omitempty"`
	Head       string `json:"head"`
	Identical  bool   `json:"identical"`
}

// Replay re-drives a match from its recorded inputs (schedule, events,
// corrections, re-pins and operator transitions) into a scratch resolver
// and checks that the regenerated ledger is byte-identical.
func (r *Resolver) Replay(ctx context.Context, matchID string) (ReplayReport, error) {
	entries, err := r.store.Read(ctx, matchID, 1, 0)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("read ledger %s: %w", matchID, err)
	}
	report := ReplayReport{MatchID: matchID, Entries: len(entries)}
	if idx, err := ledger.Verify(entries); err != nil {
		report.ChainBreak = entries[idx].Seq
		if report.ChainBreak == 0 {
			report.ChainBreak = int64(idx + 1)
		}
		return report, nil
	}

	scratch := New(ledger.NewMemoryStore(), r.rules, WithEvaluator(r.engine), WithLogger(r.log))
	if err := scratch.redrive(ctx, entries); err != nil {
		return report, fmt.Errorf("replay %s: %w", matchID, err)
	}
	regenerated, err := scratch.store.Read(ctx, matchID, 1, 0)
	if err != nil {
		return report, err
	}

	for _, e := range entries {
		if e.Kind == ledger.KindEvent {
			report.Events++
		}
	}
	n := len(entries)
	if len(regenerated) < n {
		n = len(regenerated)
	}
	for i := 0; i < n; i++ {
		if entries[i].Hash != regenerated[i].Hash {
			report.Divergence = entries[i].Seq
			break
		}
	}
	if report.Divergence == 0 && len(entries) != len(regenerated) {
		report.Divergence = int64(n + 1)
	}
	if len(entries) > 0 {
		report.Head = entries[len(entries)-1].Hash
	}
	report.Identical = report.Divergence == 0
	return report, nil
}

// redrive feeds recorded inputs through the regular write paths. Entries
// those paths derive on their own are skipped.
func (r *Resolver) redrive(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		var err error
		switch e.Kind {
		case ledger.KindSchedule:
			err = r.Schedule(ctx, *e.Schedule)
		case ledger.KindEvent:
			ev := *e.Event
			ev.SequenceNumber = 0
			_, err = r.Accept(ctx, ev, BypassTolerance())
		case ledger.KindTransition:
			if !e.Transition.Derived {
				err = r.locked(ctx, e.MatchID, func(st *matchState) error {
					return r.transition(ctx, st, e.MatchID, e.Transition.To)
				})
			}
		case ledger.KindReview:
			if !e.Review.Derived {
				err = r.SetReview(ctx, e.MatchID, e.Review.Reason, e.Review.Active)
			}
		case ledger.KindCorrection:
			m := *e.Correction
			req := CorrectionRequest{
				CorrectionID:  m.CorrectionID,
				MatchID:       e.MatchID,
				TargetEventID: m.TargetEventID,
				Reason:        m.Reason,
				Change:        model.ProposedChange{Action: m.Action, RollbackOf: m.RollbackOf},
				ReviewReason:  model.ReviewCorrectionPfx + m.CorrectionID,
			}
			_, err = r.applyCorrection(ctx, req, &m)
		case ledger.KindRepin:
			_, err = r.Repin(ctx, e.MatchID, e.Repin.To, e.Repin.Reason)
		}
		if err != nil {
			return fmt.Errorf("entry %d (%s): %w", e.Seq, e.Kind, err)
		}
	}
	return nil
}
