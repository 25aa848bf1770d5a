// Package resolver is the single logical writer of match ledgers. It drives
// the match state machine, scores accepted events and reconciles corrections.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// AppendHook observes every successful append, in ledger order per match.
// Hooks run while the match lease is held.
type AppendHook func(ctx context.Context, matchID string, entries []ledger.Entry)

// Tolerance bounds how far an event may deviate from what the match has
// already accepted. Zero fields disable the corresponding check.
type Tolerance struct {
	MinuteBackward int
	Backward       time.Duration
	Forward        time.Duration
}

// Resolver owns all match ledgers.
type Resolver struct {
	store        ledger.Store
	rules        *scoring.Registry
	engine       scoring.Evaluator
	leases       *LeaseManager
	tolerance    Tolerance
	autoSchedule bool
	log          logger.Logger

	mu     sync.Mutex
	states map[string]*matchState
	hooks  []AppendHook
}

// New creates a resolver over store, scoring against rules.
func New(store ledger.Store, rules *scoring.Registry, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		rules:  rules,
		engine: scoring.NewEngine(),
		leases: NewLeaseManager(5 * time.Second),
		log:    logger.Get().Named("resolver"),
		states: make(map[string]*matchState),
	}

	// Apply all options
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnAppend registers a hook. Register hooks before serving traffic.
func (r *Resolver) OnAppend(h AppendHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Store returns the ledger store.
func (r *Resolver) Store() ledger.Store { return r.store }

// Rules returns the ruleset registry.
func (r *Resolver) Rules() *scoring.Registry { return r.rules }

func (r *Resolver) state(ctx context.Context, matchID string) (*matchState, error) {
	r.mu.Lock()
	st, ok := r.states[matchID]
	r.mu.Unlock()
	if ok {
		return st, nil
	}

	entries, err := r.store.Read(ctx, matchID, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", matchID, err)
	}
	st = newMatchState()
	for _, e := range entries {
		st.apply(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.states[matchID]; ok {
		return existing, nil
	}
	r.states[matchID] = st
	return st, nil
}

func (r *Resolver) evict(matchID string) {
	r.mu.Lock()
	delete(r.states, matchID)
	r.mu.Unlock()
}

func (r *Resolver) ruleset(info model.MatchInfo) (*scoring.RuleSet, error) {
	return r.rules.Get(info.SportID, info.RulesetVersion)
}

// commit seals entries after the current head, appends them and folds them
// into st. The caller holds the match lease.
func (r *Resolver) commit(ctx context.Context, st *matchState, matchID string, entries []ledger.Entry) ([]ledger.Entry, error) {
	for i := range entries {
		entries[i].MatchID = matchID
	}
	sealed, err := ledger.SealAll(st.head, entries)
	if err != nil {
		r.evict(matchID)
		return nil, err
	}

	start := time.Now()
	if err := r.store.Append(ctx, matchID, sealed...); err != nil {
		metrics.RecordLedgerAppendError()
		r.log.Error(ctx, "ledger append failed", logger.String("match_id", matchID), logger.Error(err))
		r.evict(matchID)
		return nil, fmt.Errorf("append %s: %w", matchID, err)
	}
	metrics.RecordLedgerAppend(float64(time.Since(start).Microseconds()) / 1000)

	st.mu.Lock()
	wasReview := len(st.reviews) > 0
	for _, e := range sealed {
		st.apply(e)
		switch e.Kind {
		case ledger.KindDelta, ledger.KindCompensation:
			metrics.RecordDeltasAppended(string(e.Kind), 1)
		case ledger.KindTransition:
			metrics.RecordMatchStateChange(string(e.Transition.To))
		}
	}
	isReview := len(st.reviews) > 0
	st.mu.Unlock()
	switch {
	case isReview && !wasReview:
		metrics.AddMatchesUnderReview(1)
	case wasReview && !isReview:
		metrics.AddMatchesUnderReview(-1)
	}

	r.mu.Lock()
	hooks := append([]AppendHook(nil), r.hooks...)
	r.mu.Unlock()
	for _, h := range hooks {
		h(ctx, matchID, sealed)
	}
	return sealed, nil
}

// locked runs fn under the match lease with the loaded match state.
func (r *Resolver) locked(ctx context.Context, matchID string, fn func(st *matchState) error) error {
	release, err := r.leases.Acquire(ctx, matchID)
	if err != nil {
		return err
	}
	defer release()

	st, err := r.state(ctx, matchID)
	if err != nil {
		return err
	}
	return fn(st)
}

// Schedule pins a match to a ruleset version (latest when zero). Scheduling
// the same match twice with identical info is a no-op.
func (r *Resolver) Schedule(ctx context.Context, info model.MatchInfo) error {
	info.MatchID = strings.TrimSpace(info.MatchID)
	info.SportID = strings.ToLower(strings.TrimSpace(info.SportID))
	if info.MatchID == "" || info.SportID == "" {
		return fmt.Errorf("%w: match_id and sport_id are required", ErrInvalidSchedule)
	}
	if info.RulesetVersion == 0 {
		rs, err := r.rules.Latest(info.SportID)
		if err != nil {
			return err
		}
		info.RulesetVersion = rs.Version
	} else if _, err := r.ruleset(info); err != nil {
		return err
	}

	return r.locked(ctx, info.MatchID, func(st *matchState) error {
		return r.scheduleLocked(ctx, st, info)
	})
}

func (r *Resolver) scheduleLocked(ctx context.Context, st *matchState, info model.MatchInfo) error {
	if st.scheduled {
		if st.info == info {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, info.MatchID)
	}
	_, err := r.commit(ctx, st, info.MatchID, []ledger.Entry{{Kind: ledger.KindSchedule, Schedule: &info}})
	if err == nil {
		r.log.Info(ctx, "match scheduled",
			logger.String("match_id", info.MatchID),
			logger.String("sport", info.SportID),
			logger.Int("ruleset_version", info.RulesetVersion))
	}
	return err
}

// Finish moves an in-progress match to FINISHED.
func (r *Resolver) Finish(ctx context.Context, matchID string) error {
	return r.locked(ctx, matchID, func(st *matchState) error {
		return r.transition(ctx, st, matchID, model.StateFinished)
	})
}

// Resolve marks a finished match with no open reviews as RESOLVED.
func (r *Resolver) Resolve(ctx context.Context, matchID string) error {
	return r.locked(ctx, matchID, func(st *matchState) error {
		if len(st.reviews) > 0 {
			return fmt.Errorf("%w: %s", ErrOpenReviews, strings.Join(st.reviewReasons(), ","))
		}
		return r.transition(ctx, st, matchID, model.StateResolved)
	})
}

func (r *Resolver) transition(ctx context.Context, st *matchState, matchID string, to model.MatchState) error {
	if !st.scheduled {
		return fmt.Errorf("%w: %s", ErrMatchNotScheduled, matchID)
	}
	if !model.CanTransition(st.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.state, to)
	}
	_, err := r.commit(ctx, st, matchID, []ledger.Entry{{
		Kind:       ledger.KindTransition,
		Transition: &ledger.Transition{From: st.state, To: to},
	}})
	return err
}

// SetReview sets or clears an UNDER_REVIEW reason. Unchanged reasons are a no-op.
func (r *Resolver) SetReview(ctx context.Context, matchID, reason string, active bool) error {
	return r.locked(ctx, matchID, func(st *matchState) error {
		if !st.scheduled {
			return fmt.Errorf("%w: %s", ErrMatchNotScheduled, matchID)
		}
		if st.reviews[reason] == active {
			return nil
		}
		_, err := r.commit(ctx, st, matchID, []ledger.Entry{{
			Kind:   ledger.KindReview,
			Review: &ledger.Review{Reason: reason, Active: active},
		}})
		return err
	})
}

// Status is a snapshot of a match's resolver state.
type Status struct {
	Info          model.MatchInfo    `json:"info"`
	State         model.MatchState   `json:"state"`
	UnderReview   bool               `json:"under_review"`
	Reviews       []string           `json:"reviews"`
	LedgerVersion int64              `json:"ledger_version"`
	Events        int64              `json:"events"`
	Unscored      []int64            `json:"unscored,omitempty"`
	Totals        model.PlayerTotals `json:"totals"`
}

// Status returns the current state of a match.
func (r *Resolver) Status(ctx context.Context, matchID string) (Status, error) {
	st, err := r.state(ctx, matchID)
	if err != nil {
		return Status{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.scheduled {
		return Status{}, fmt.Errorf("%w: %s", ErrMatchNotScheduled, matchID)
	}
	reviews := st.reviewReasons()
	return Status{
		Info:          st.info,
		State:         st.state,
		UnderReview:   len(reviews) > 0,
		Reviews:       reviews,
		LedgerVersion: st.headSeq(),
		Events:        st.eventSeq,
		Unscored:      st.unscoredSeqs(),
		Totals:        st.totals(),
	}, nil
}

// FindEvent returns an accepted event by event id or provider/event key.
func (r *Resolver) FindEvent(ctx context.Context, matchID, eventID string) (model.CanonicalEvent, error) {
	st, err := r.state(ctx, matchID)
	if err != nil {
		return model.CanonicalEvent{}, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	seq, ok := st.byID[eventID]
	if !ok {
		return model.CanonicalEvent{}, fmt.Errorf("event %s in match %s: %w", eventID, matchID, model.ErrNotFound)
	}
	ev, _ := st.event(seq)
	return ev, nil
}
