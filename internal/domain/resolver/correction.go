package resolver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/pkg/logger"
	"github.com/shopspring/decimal"
)

// CorrectionRequest is an approved (or simulated) edit of one accepted event.
type CorrectionRequest struct {
	CorrectionID  string
	MatchID       string
	TargetEventID string
	Reason        string
	Change        model.ProposedChange
	// ReviewReason is cleared from the match when the correction lands.
	ReviewReason string
}

// Plan is the computed effect of a correction or re-pin.
type Plan struct {
	MatchID       string                 `json:"match_id"`
	Mark          *ledger.CorrectionMark `json:"mark,omitempty"`
	Compensations []model.PointDelta     `json:"compensations"`
	Before        model.PlayerTotals     `json:"before"`
	After         model.PlayerTotals     `json:"after"`
	Unscored      int                    `json:"unscored"`
	LedgerVersion int64                  `json:"ledger_version"`
}

// Simulate computes a correction's effect on a shadow copy of the ledger.
// Nothing is written and the live match state is not touched.
func (r *Resolver) Simulate(ctx context.Context, req CorrectionRequest) (Plan, error) {
	entries, err := r.store.Read(ctx, req.MatchID, 1, 0)
	if err != nil {
		return Plan{}, fmt.Errorf("read shadow ledger %s: %w", req.MatchID, err)
	}
	shadow := newMatchState()
	for _, e := range entries {
		shadow.apply(e)
	}
	if !shadow.scheduled {
		return Plan{}, fmt.Errorf("%w: %s", ErrMatchNotScheduled, req.MatchID)
	}
	mark, err := buildMark(shadow, req)
	if err != nil {
		return Plan{}, err
	}
	rs, err := r.ruleset(shadow.info)
	if err != nil {
		return Plan{}, err
	}
	plan, _ := r.plan(shadow, rs, &mark, req.CorrectionID, string(mark.Action))
	return plan, nil
}

// ApplyCorrection appends the correction overlay and its compensating deltas
// under the match lease. A busy lease yields a CorrectionConflict.
func (r *Resolver) ApplyCorrection(ctx context.Context, req CorrectionRequest) (Plan, error) {
	return r.applyCorrection(ctx, req, nil)
}

// applyCorrection writes preset verbatim when given (replay), otherwise the
// overlay built from req.
func (r *Resolver) applyCorrection(ctx context.Context, req CorrectionRequest, preset *ledger.CorrectionMark) (Plan, error) {
	var plan Plan
	err := r.locked(ctx, req.MatchID, func(st *matchState) error {
		if !st.scheduled {
			return fmt.Errorf("%w: %s", ErrMatchNotScheduled, req.MatchID)
		}
		var mark ledger.CorrectionMark
		if preset != nil {
			mark = *preset
		} else {
			var err error
			if mark, err = buildMark(st, req); err != nil {
				return err
			}
		}
		rs, err := r.ruleset(st.info)
		if err != nil {
			return err
		}
		var out outcome
		plan, out = r.plan(st, rs, &mark, req.CorrectionID, string(mark.Action))

		entries := []ledger.Entry{{Kind: ledger.KindCorrection, Correction: &mark}}
		entries = append(entries, compensationEntries(plan.Compensations)...)
		entries = append(entries, unscoredEntries(st, out.failures)...)
		entries = append(entries, reviewEntries(st, len(out.failures), req.ReviewReason)...)
		sealed, err := r.commit(ctx, st, req.MatchID, entries)
		if err != nil {
			return err
		}
		plan.Compensations = sealedDeltas(sealed)
		plan.LedgerVersion = sealed[len(sealed)-1].Seq
		r.log.Info(ctx, "correction applied",
			logger.String("match_id", req.MatchID),
			logger.String("correction_id", req.CorrectionID),
			logger.String("action", string(mark.Action)),
			logger.Int("compensations", len(plan.Compensations)))
		return nil
	})
	if errors.Is(err, ErrLeaseTimeout) {
		return Plan{}, &model.CorrectionConflict{MatchID: req.MatchID, Reason: "match lease busy"}
	}
	return plan, err
}

// Repin moves a match under review to another ruleset version and
// reconciles every accepted event against it.
func (r *Resolver) Repin(ctx context.Context, matchID string, version int, reason string) (Plan, error) {
	var plan Plan
	err := r.locked(ctx, matchID, func(st *matchState) error {
		if !st.scheduled {
			return fmt.Errorf("%w: %s", ErrMatchNotScheduled, matchID)
		}
		if len(st.reviews) == 0 {
			return fmt.Errorf("%w: %s", ErrNotUnderReview, matchID)
		}
		if version == st.info.RulesetVersion {
			return fmt.Errorf("%w: already pinned to v%d", ErrInvalidCorrection, version)
		}
		rs, err := r.rules.Get(st.info.SportID, version)
		if err != nil {
			return err
		}
		label := fmt.Sprintf("repin v%d->v%d", st.info.RulesetVersion, version)
		var out outcome
		plan, out = r.plan(st, rs, nil, fmt.Sprintf("repin:v%d", version), label)

		entries := []ledger.Entry{{Kind: ledger.KindRepin,
			Repin: &ledger.Repin{From: st.info.RulesetVersion, To: version, Reason: reason}}}
		entries = append(entries, compensationEntries(plan.Compensations)...)
		entries = append(entries, unscoredEntries(st, out.failures)...)
		entries = append(entries, reviewEntries(st, len(out.failures), "")...)
		sealed, err := r.commit(ctx, st, matchID, entries)
		if err != nil {
			return err
		}
		plan.Compensations = sealedDeltas(sealed)
		plan.LedgerVersion = sealed[len(sealed)-1].Seq
		r.log.Info(ctx, "ruleset re-pinned",
			logger.String("match_id", matchID),
			logger.Int("version", version),
			logger.Int("unscored", len(out.failures)))
		return nil
	})
	return plan, err
}

// plan recomputes the match with mark applied (nil for none) under rs and
// diffs the result against the net deltas already in the ledger.
func (r *Resolver) plan(st *matchState, rs *scoring.RuleSet, mark *ledger.CorrectionMark, correctionID, label string) (Plan, outcome) {
	out := recompute(r.engine, rs, st.effective(mark))

	keys := make([]model.DeltaKey, 0, len(out.targets)+len(st.net))
	for k := range out.targets {
		keys = append(keys, k)
	}
	for k := range st.net {
		if _, ok := out.targets[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	before := st.totals()
	after := make(model.PlayerTotals, len(before))
	for p, v := range before {
		after[p] = v
	}

	var comps []model.PointDelta
	for _, k := range keys {
		target := out.targets[k].Points
		current := decimal.Zero
		var origin int64
		if c, ok := st.net[k]; ok {
			current, origin = c.points, c.origin
		}
		diff := target.Sub(current)
		if diff.IsZero() {
			continue
		}
		ev, _ := st.event(k.EventSequence)
		comps = append(comps, model.PointDelta{
			MatchID:               st.info.MatchID,
			PlayerID:              k.PlayerID,
			RuleID:                k.RuleID,
			Points:                diff,
			Explanation:           fmt.Sprintf("%s %s: %s %s -> %s", label, correctionID, k.RuleID, current, target),
			AppliedRulesetVersion: rs.Version,
			EventSequence:         k.EventSequence,
			EventID:               ev.EventID,
			Compensates:           origin,
			CorrectionID:          correctionID,
		})
		after[k.PlayerID] = after[k.PlayerID].Add(diff)
	}

	return Plan{
		MatchID:       st.info.MatchID,
		Mark:          mark,
		Compensations: comps,
		Before:        before,
		After:         after,
		Unscored:      len(out.failures),
		LedgerVersion: st.headSeq(),
	}, out
}

func compensationEntries(comps []model.PointDelta) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(comps))
	for i := range comps {
		d := comps[i]
		out = append(out, ledger.Entry{Kind: ledger.KindCompensation, Delta: &d})
	}
	return out
}

// unscoredEntries brings the ledger's unscored marks in line with a
// recomputation: new failures are marked and events that now score are
// cleared, in event order.
func unscoredEntries(st *matchState, failures map[int64]*model.RuleEvaluationError) []ledger.Entry {
	seqs := make([]int64, 0, len(failures)+len(st.unscored))
	for seq := range failures {
		seqs = append(seqs, seq)
	}
	for seq := range st.unscored {
		if _, ok := failures[seq]; !ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var out []ledger.Entry
	for _, seq := range seqs {
		rerr, failing := failures[seq]
		_, marked := st.unscored[seq]
		switch {
		case failing && !marked:
			out = append(out, ledger.Entry{Kind: ledger.KindUnscored,
				Unscored: &ledger.Unscored{EventSequence: seq, RuleID: rerr.RuleID, Error: rerr.Err.Error()}})
		case !failing && marked:
			out = append(out, ledger.Entry{Kind: ledger.KindUnscored,
				Unscored: &ledger.Unscored{EventSequence: seq, Cleared: true}})
		}
	}
	return out
}

// reviewEntries clears the handled review reason and keeps the
// rule_evaluation reason in line with the recomputation.
func reviewEntries(st *matchState, failures int, clear string) []ledger.Entry {
	var out []ledger.Entry
	if clear != "" && clear != model.ReviewRuleEvaluation && st.reviews[clear] {
		out = append(out, ledger.Entry{Kind: ledger.KindReview,
			Review: &ledger.Review{Reason: clear, Active: false, Derived: true}})
	}
	active := st.reviews[model.ReviewRuleEvaluation]
	switch {
	case failures > 0 && !active:
		out = append(out, ledger.Entry{Kind: ledger.KindReview,
			Review: &ledger.Review{Reason: model.ReviewRuleEvaluation, Active: true, Derived: true}})
	case failures == 0 && active:
		out = append(out, ledger.Entry{Kind: ledger.KindReview,
			Review: &ledger.Review{Reason: model.ReviewRuleEvaluation, Active: false, Derived: true}})
	}
	return out
}

func sealedDeltas(sealed []ledger.Entry) []model.PointDelta {
	var out []model.PointDelta
	for _, e := range sealed {
		if e.Kind == ledger.KindCompensation {
			out = append(out, *e.Delta)
		}
	}
	return out
}

// buildMark resolves a request into the overlay written to the ledger.
func buildMark(st *matchState, req CorrectionRequest) (ledger.CorrectionMark, error) {
	if req.CorrectionID == "" {
		return ledger.CorrectionMark{}, fmt.Errorf("%w: correction id required", ErrInvalidCorrection)
	}
	if _, dup := st.marksByID[req.CorrectionID]; dup {
		return ledger.CorrectionMark{}, fmt.Errorf("%w: %s already applied", ErrInvalidCorrection, req.CorrectionID)
	}
	mark := ledger.CorrectionMark{
		CorrectionID: req.CorrectionID,
		Action:       req.Change.Action,
		Reason:       req.Reason,
	}

	if req.Change.Action == model.ActionRollback {
		orig, ok := st.marksByID[req.Change.RollbackOf]
		switch {
		case !ok:
			return mark, fmt.Errorf("correction %s: %w", req.Change.RollbackOf, model.ErrNotFound)
		case orig.Action == model.ActionRollback:
			return mark, fmt.Errorf("%w: cannot roll back a rollback", ErrInvalidCorrection)
		case st.rolledBack[orig.CorrectionID]:
			return mark, fmt.Errorf("%w: %s already rolled back", ErrInvalidCorrection, orig.CorrectionID)
		}
		mark.RollbackOf = orig.CorrectionID
		mark.TargetEventID = orig.TargetEventID
		mark.TargetSequence = orig.TargetSequence
		return mark, nil
	}

	seq, ok := st.byID[req.TargetEventID]
	if !ok {
		return mark, fmt.Errorf("event %s in match %s: %w", req.TargetEventID, req.MatchID, model.ErrNotFound)
	}
	orig, _ := st.event(seq)
	if orig.IsLifecycle() {
		return mark, fmt.Errorf("%w: lifecycle events cannot be corrected", ErrInvalidCorrection)
	}
	mark.TargetEventID = orig.EventID
	mark.TargetSequence = seq

	current, voided := orig, false
	for _, m := range st.marks[seq] {
		if st.rolledBack[m.CorrectionID] {
			continue
		}
		if m.Action == model.ActionVoid {
			voided = true
		} else {
			current, voided = *m.Amended, false
		}
	}

	switch req.Change.Action {
	case model.ActionVoid:
		if voided {
			return mark, fmt.Errorf("%w: event %s is already void", ErrInvalidCorrection, orig.EventID)
		}
	case model.ActionAmend:
		amended := amend(current, req.Change)
		if err := amended.Validate(); err != nil {
			return mark, err
		}
		if !voided && reflect.DeepEqual(amended, current) {
			return mark, fmt.Errorf("%w: amendment changes nothing", ErrInvalidCorrection)
		}
		mark.Amended = &amended
	default:
		return mark, fmt.Errorf("%w: unknown action %q", ErrInvalidCorrection, req.Change.Action)
	}
	return mark, nil
}

// amend applies c to ev and normalizes the result the way ingestion does,
// so amended player and type keys match submitted ones.
func amend(ev model.CanonicalEvent, c model.ProposedChange) model.CanonicalEvent {
	out := ev
	if c.EventType != "" {
		out.EventType = c.EventType
	}
	if c.PlayerID != "" {
		out.PlayerID = c.PlayerID
	}
	if c.Minute != nil {
		out.Minute = *c.Minute
	}
	if len(c.Metadata) > 0 {
		md := make(map[string]string, len(ev.Metadata)+len(c.Metadata))
		for k, v := range ev.Metadata {
			md[k] = v
		}
		for k, v := range c.Metadata {
			if v == "" {
				delete(md, k)
				continue
			}
			md[k] = v
		}
		out.Metadata = md
	}
	out = out.Normalize()
	out.SequenceNumber = ev.SequenceNumber
	return out
}
