package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// AcceptOption tunes a single Accept call.
type AcceptOption func(*acceptConfig)

type acceptConfig struct {
	bypassTolerance bool
}

// BypassTolerance accepts an event an operator released from quarantine.
func BypassTolerance() AcceptOption {
	return func(c *acceptConfig) { c.bypassTolerance = true }
}

// Result describes an accepted event.
type Result struct {
	Sequence      int64              `json:"sequence_number"`
	LedgerVersion int64              `json:"ledger_version"`
	Deltas        []model.PointDelta `json:"deltas"`
	// EvaluationError is set when the event was retained unscored.
	EvaluationError error `json:"-"`
}

// Accept sequences ev into its match ledger and scores it. The event must be
// normalized and validated. Events outside tolerance of what the match has
// already accepted fail with a QuarantineError and are not written.
func (r *Resolver) Accept(ctx context.Context, ev model.CanonicalEvent, opts ...AcceptOption) (Result, error) {
	var cfg acceptConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var res Result
	err := r.locked(ctx, ev.MatchID, func(st *matchState) error {
		var err error
		res, err = r.acceptLocked(ctx, st, ev, cfg)
		return err
	})
	return res, err
}

func (r *Resolver) acceptLocked(ctx context.Context, st *matchState, ev model.CanonicalEvent, cfg acceptConfig) (Result, error) {
	if !st.scheduled {
		if !r.autoSchedule {
			return Result{}, fmt.Errorf("%w: %s", ErrMatchNotScheduled, ev.MatchID)
		}
		rs, err := r.rules.Latest(ev.SportID)
		if err != nil {
			return Result{}, err
		}
		info := model.MatchInfo{MatchID: ev.MatchID, SportID: rs.SportID, RulesetVersion: rs.Version}
		if err := r.scheduleLocked(ctx, st, info); err != nil {
			return Result{}, err
		}
	}
	if ev.SportID != st.info.SportID {
		return Result{}, &model.InvalidEventError{Field: "sport_id", Reason: "does not match scheduled sport " + st.info.SportID}
	}
	// The ledger is the authority on idempotency; the ingest window only
	// short-circuits recent redeliveries.
	if seq, ok := st.byID[ev.IdempotencyKey()]; ok {
		return Result{Sequence: seq, LedgerVersion: st.headSeq()},
			fmt.Errorf("%w: %s is event %d of %s", model.ErrDuplicateEvent, ev.IdempotencyKey(), seq, ev.MatchID)
	}
	if st.state == model.StateFinished || st.state == model.StateResolved {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrMatchClosed, ev.MatchID, st.state)
	}
	if !cfg.bypassTolerance {
		if reason := r.checkTolerance(st, ev); reason != "" {
			r.log.Warn(ctx, "event outside tolerance",
				logger.String("match_id", ev.MatchID),
				logger.String("event", ev.IdempotencyKey()),
				logger.String("detail", reason))
			return Result{}, &model.QuarantineError{Reason: model.ReasonOutOfTolerance}
		}
	}

	rs, err := r.ruleset(st.info)
	if err != nil {
		return Result{}, err
	}
	if st.live == nil {
		st.live = recompute(r.engine, rs, st.effective(nil)).replayer
	}

	ev.SequenceNumber = st.eventSeq + 1
	var entries []ledger.Entry
	if st.state == model.StateScheduled {
		entries = append(entries, ledger.Entry{Kind: ledger.KindTransition,
			Transition: &ledger.Transition{From: model.StateScheduled, To: model.StateInProgress, Derived: true}})
	}
	evCopy := ev
	entries = append(entries, ledger.Entry{Kind: ledger.KindEvent, Event: &evCopy})

	res := Result{Sequence: ev.SequenceNumber}
	deltas, evalErr := st.live.step(ev)
	if evalErr != nil {
		var rerr *model.RuleEvaluationError
		if !errors.As(evalErr, &rerr) {
			rerr = &model.RuleEvaluationError{RuleID: "*", Err: evalErr}
		}
		res.EvaluationError = rerr
		entries = append(entries, ledger.Entry{Kind: ledger.KindUnscored,
			Unscored: &ledger.Unscored{EventSequence: ev.SequenceNumber, RuleID: rerr.RuleID, Error: rerr.Err.Error()}})
		if !st.reviews[model.ReviewRuleEvaluation] {
			entries = append(entries, ledger.Entry{Kind: ledger.KindReview,
				Review: &ledger.Review{Reason: model.ReviewRuleEvaluation, Active: true, Derived: true}})
		}
	}
	for i := range deltas {
		d := deltas[i]
		entries = append(entries, ledger.Entry{Kind: ledger.KindDelta, Delta: &d})
	}
	if ev.EventType == model.EventMatchEnd {
		entries = append(entries, ledger.Entry{Kind: ledger.KindTransition,
			Transition: &ledger.Transition{From: model.StateInProgress, To: model.StateFinished, Derived: true}})
	}

	sealed, err := r.commit(ctx, st, ev.MatchID, entries)
	if err != nil {
		return Result{}, err
	}
	for _, e := range sealed {
		if e.Kind == ledger.KindDelta {
			res.Deltas = append(res.Deltas, *e.Delta)
		}
	}
	res.LedgerVersion = sealed[len(sealed)-1].Seq

	if res.EvaluationError != nil {
		metrics.RecordRuleEvaluationError(ev.SportID)
		r.log.Warn(ctx, "event retained unscored, match under review",
			logger.String("match_id", ev.MatchID),
			logger.Int64("sequence", ev.SequenceNumber),
			logger.Error(res.EvaluationError))
	}
	metrics.RecordEventAccepted(ev.SportID)
	return res, nil
}

// checkTolerance returns a non-empty description when ev deviates too far
// from the events already accepted for the match.
func (r *Resolver) checkTolerance(st *matchState, ev model.CanonicalEvent) string {
	if st.eventSeq == 0 {
		return ""
	}
	t := r.tolerance
	if t.MinuteBackward > 0 && ev.Minute < st.lastMinute-t.MinuteBackward {
		return fmt.Sprintf("minute %d behind accepted minute %d", ev.Minute, st.lastMinute)
	}
	if t.Backward > 0 && ev.Timestamp.Before(st.lastTS.Add(-t.Backward)) {
		return fmt.Sprintf("timestamp %s behind accepted %s", ev.Timestamp, st.lastTS)
	}
	if t.Forward > 0 && ev.Timestamp.After(st.lastTS.Add(t.Forward)) {
		return fmt.Sprintf("timestamp %s ahead of accepted %s", ev.Timestamp, st.lastTS)
	}
	return ""
}
