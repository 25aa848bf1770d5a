// Package correction runs retroactive edits through dry-run, role-gated
// approval and application, leaving an immutable audit trail.
package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// Applier is the part of the resolver the pipeline drives.
type Applier interface {
	Simulate(ctx context.Context, req resolver.CorrectionRequest) (resolver.Plan, error)
	ApplyCorrection(ctx context.Context, req resolver.CorrectionRequest) (resolver.Plan, error)
	SetReview(ctx context.Context, matchID, reason string, active bool) error
}

// Rebuilder refreshes a match projection.
type Rebuilder interface {
	Rebuild(ctx context.Context, matchID string) error
}

// RebuilderFunc adapts a function to Rebuilder.
type RebuilderFunc func(ctx context.Context, matchID string) error

// Rebuild implements Rebuilder.
func (f RebuilderFunc) Rebuild(ctx context.Context, matchID string) error { return f(ctx, matchID) }

// Request asks for a VOID or AMEND of one accepted event.
type Request struct {
	MatchID       string               `json:"match_id"`
	TargetEventID string               `json:"target_event_id"`
	Reason        string               `json:"reason"`
	Change        model.ProposedChange `json:"proposed_change"`
	RequestedBy   string               `json:"requested_by"`
}

// Pipeline moves corrections from submission to application.
type Pipeline struct {
	applier   Applier
	store     Store
	audit     audit.Log
	notifier  Notifier
	rebuilder Rebuilder
	tiers     []model.Role
	now       func() time.Time
	log       logger.Logger

	// mu serializes status changes so a match has at most one pending
	// correction. It is never held across a call that takes a match lease.
	mu       sync.Mutex
	pending  map[string]string
	applying map[string]bool
}

// New creates a pipeline driving applier.
func New(applier Applier, opts ...Option) *Pipeline {
	p := &Pipeline{
		applier:  applier,
		tiers:    []model.Role{model.RoleCommissioner, model.RoleAdmin},
		now:      time.Now,
		pending:  make(map[string]string),
		applying: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = NewMemoryStore()
	}
	if p.audit == nil {
		p.audit = audit.NewMemoryLog()
	}
	if p.notifier == nil {
		p.notifier = NewLogNotifier()
	}
	if p.log == nil {
		p.log = logger.Named("correction")
	}
	return p
}

// Tiers returns the approval tiers in order.
func (p *Pipeline) Tiers() []model.Role {
	return append([]model.Role(nil), p.tiers...)
}

// Submit dry-runs a correction and queues it for approval. The match stays
// under review until the correction is applied or rejected.
func (p *Pipeline) Submit(ctx context.Context, req Request) (model.Correction, error) {
	switch {
	case strings.TrimSpace(req.MatchID) == "":
		return model.Correction{}, fmt.Errorf("%w: match_id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.TargetEventID) == "":
		return model.Correction{}, fmt.Errorf("%w: target_event_id is required", ErrInvalidRequest)
	case strings.TrimSpace(req.Reason) == "":
		return model.Correction{}, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	case req.Change.Action != model.ActionVoid && req.Change.Action != model.ActionAmend:
		return model.Correction{}, fmt.Errorf("%w: action must be VOID or AMEND", ErrInvalidRequest)
	}
	return p.submit(ctx, req)
}

// Rollback submits the inverse of an applied correction. It goes through
// the same approval tiers.
func (p *Pipeline) Rollback(ctx context.Context, correctionID, requestedBy, reason string) (model.Correction, error) {
	orig, err := p.store.Get(ctx, correctionID)
	if err != nil {
		return model.Correction{}, err
	}
	if orig.Status != model.CorrectionApplied {
		return model.Correction{}, fmt.Errorf("%w: %s is %s", ErrNotApplied, correctionID, orig.Status)
	}
	if reason == "" {
		reason = "rollback of " + correctionID
	}
	return p.submit(ctx, Request{
		MatchID:       orig.MatchID,
		TargetEventID: orig.TargetEventID,
		Reason:        reason,
		Change:        model.ProposedChange{Action: model.ActionRollback, RollbackOf: correctionID},
		RequestedBy:   requestedBy,
	})
}

func (p *Pipeline) submit(ctx context.Context, req Request) (model.Correction, error) {
	c := model.Correction{
		CorrectionID:   uuid.NewString(),
		MatchID:        req.MatchID,
		TargetEventID:  req.TargetEventID,
		Reason:         req.Reason,
		ProposedChange: req.Change,
		RequestedBy:    req.RequestedBy,
		ApproverChain:  []model.Approval{},
		Status:         model.CorrectionPending,
		Timestamp:      p.now().UTC(),
	}

	// Reserve the match's pending slot; the dry-run and review flag wait on
	// the match lease and must not block other matches.
	p.mu.Lock()
	if other, ok := p.pending[req.MatchID]; ok {
		p.mu.Unlock()
		return model.Correction{}, &model.CorrectionConflict{MatchID: req.MatchID, Reason: "correction " + other + " is pending"}
	}
	p.pending[c.MatchID] = c.CorrectionID
	p.mu.Unlock()

	plan, err := p.applier.Simulate(ctx, p.request(c))
	if err != nil {
		p.release(c)
		return model.Correction{}, err
	}
	c.BeforeState, c.AfterState, c.Deltas = plan.Before, plan.After, plan.Compensations

	if err := p.store.Put(ctx, c); err != nil {
		p.release(c)
		return model.Correction{}, err
	}
	if err := p.applier.SetReview(ctx, c.MatchID, reviewReason(c.CorrectionID), true); err != nil {
		p.log.Warn(ctx, "could not flag match under review",
			logger.String("match_id", c.MatchID), logger.Error(err))
	}

	p.record(ctx, c, audit.ActionSubmitted, c.RequestedBy, c.Reason)
	metrics.RecordCorrection("submitted")
	p.log.Info(ctx, "correction submitted",
		logger.String("correction_id", c.CorrectionID),
		logger.String("match_id", c.MatchID),
		logger.String("action", string(c.ProposedChange.Action)),
		logger.Int("deltas", len(c.Deltas)))
	p.notifier.Notify(ctx, c)
	return c, nil
}

// release frees a reservation made by submit that never reached the store.
func (p *Pipeline) release(c model.Correction) {
	p.mu.Lock()
	if p.pending[c.MatchID] == c.CorrectionID {
		delete(p.pending, c.MatchID)
	}
	p.mu.Unlock()
}

// Approve signs the next tier. The final signature applies the correction
// to the ledger; a busy match yields a CorrectionConflict and the signature
// is not kept so the approval can be retried.
func (p *Pipeline) Approve(ctx context.Context, id, actor string, role model.Role) (model.Correction, error) {
	p.mu.Lock()
	c, err := p.pendingCorrection(ctx, id)
	if err != nil {
		p.mu.Unlock()
		return model.Correction{}, err
	}
	if p.applying[id] {
		p.mu.Unlock()
		return model.Correction{}, &model.CorrectionConflict{MatchID: c.MatchID, Reason: "correction " + id + " is being applied"}
	}
	tier := p.tiers[len(c.ApproverChain)]
	if role.Rank() < tier.Rank() {
		p.mu.Unlock()
		return model.Correction{}, fmt.Errorf("%w: %s cannot sign %s tier", ErrInsufficientRole, role, tier)
	}
	for _, a := range c.ApproverChain {
		if a.Actor == actor {
			p.mu.Unlock()
			return model.Correction{}, fmt.Errorf("%w: %s", ErrDuplicateApprover, actor)
		}
	}
	c.ApproverChain = append(c.ApproverChain, model.Approval{Actor: actor, Role: role, Tier: tier, At: p.now().UTC()})

	if len(c.ApproverChain) < len(p.tiers) {
		err := p.store.Update(ctx, c)
		p.mu.Unlock()
		if err != nil {
			return model.Correction{}, err
		}
		p.record(ctx, c, audit.ActionApproved, actor, string(tier))
		p.notifier.Notify(ctx, c)
		return c, nil
	}
	p.applying[id] = true
	p.mu.Unlock()

	plan, err := p.applier.ApplyCorrection(ctx, p.request(c))
	if err != nil {
		if model.IsConflict(err) {
			p.mu.Lock()
			delete(p.applying, id)
			p.mu.Unlock()
			metrics.RecordCorrection("conflict")
			return model.Correction{}, err
		}
		return p.fail(ctx, c, err)
	}

	p.mu.Lock()
	delete(p.applying, id)
	c.Status = model.CorrectionApplied
	c.BeforeState, c.AfterState, c.Deltas = plan.Before, plan.After, plan.Compensations
	rec := p.record(ctx, c, audit.ActionApplied, actor, c.Reason)
	c.AuditRecordID = rec.ID
	err = p.store.Update(ctx, c)
	delete(p.pending, c.MatchID)
	p.mu.Unlock()
	if err != nil {
		return model.Correction{}, err
	}

	metrics.RecordCorrection("applied")
	p.log.Info(ctx, "correction applied",
		logger.String("correction_id", c.CorrectionID),
		logger.String("match_id", c.MatchID),
		logger.Int64("ledger_version", plan.LedgerVersion))
	if p.rebuilder != nil {
		if err := p.rebuilder.Rebuild(ctx, c.MatchID); err != nil {
			p.log.Warn(ctx, "projection rebuild after correction failed",
				logger.String("match_id", c.MatchID), logger.Error(err))
		}
	}
	p.notifier.Notify(ctx, c)
	return c, nil
}

// fail marks a correction the resolver refused as FAILED.
func (p *Pipeline) fail(ctx context.Context, c model.Correction, cause error) (model.Correction, error) {
	p.mu.Lock()
	c.Status = model.CorrectionFailed
	c.RejectReason = cause.Error()
	err := p.store.Update(ctx, c)
	delete(p.pending, c.MatchID)
	delete(p.applying, c.CorrectionID)
	p.mu.Unlock()

	p.clearReview(ctx, c)
	p.record(ctx, c, audit.ActionFailed, "", cause.Error())
	metrics.RecordCorrection("failed")
	p.log.Error(ctx, "correction failed",
		logger.String("correction_id", c.CorrectionID), logger.Error(cause))
	p.notifier.Notify(ctx, c)
	return c, errors.Join(cause, err)
}

// Reject discards a pending correction with a recorded reason.
func (p *Pipeline) Reject(ctx context.Context, id, actor, reason string) (model.Correction, error) {
	if strings.TrimSpace(reason) == "" {
		return model.Correction{}, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	p.mu.Lock()
	c, err := p.pendingCorrection(ctx, id)
	if err != nil {
		p.mu.Unlock()
		return model.Correction{}, err
	}
	if p.applying[id] {
		p.mu.Unlock()
		return model.Correction{}, &model.CorrectionConflict{MatchID: c.MatchID, Reason: "correction " + id + " is being applied"}
	}
	c.Status = model.CorrectionRejected
	c.RejectReason = reason
	err = p.store.Update(ctx, c)
	if err == nil {
		delete(p.pending, c.MatchID)
	}
	p.mu.Unlock()
	if err != nil {
		return model.Correction{}, err
	}

	p.clearReview(ctx, c)
	p.record(ctx, c, audit.ActionRejected, actor, reason)
	metrics.RecordCorrection("rejected")
	p.notifier.Notify(ctx, c)
	return c, nil
}

// Get returns a correction.
func (p *Pipeline) Get(ctx context.Context, id string) (model.Correction, error) {
	return p.store.Get(ctx, id)
}

// List returns the corrections of a match, all matches when matchID is empty.
func (p *Pipeline) List(ctx context.Context, matchID string) ([]model.Correction, error) {
	return p.store.List(ctx, matchID)
}

// Restore reloads the pending index from the store after a restart.
func (p *Pipeline) Restore(ctx context.Context) error {
	all, err := p.store.List(ctx, "")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range all {
		if c.Status == model.CorrectionPending {
			p.pending[c.MatchID] = c.CorrectionID
		}
	}
	return nil
}

func (p *Pipeline) pendingCorrection(ctx context.Context, id string) (model.Correction, error) {
	c, err := p.store.Get(ctx, id)
	if err != nil {
		return model.Correction{}, err
	}
	if c.Status != model.CorrectionPending {
		return model.Correction{}, fmt.Errorf("%w: %s is %s", ErrNotPending, id, c.Status)
	}
	c.ApproverChain = append([]model.Approval(nil), c.ApproverChain...)
	return c, nil
}

func (p *Pipeline) request(c model.Correction) resolver.CorrectionRequest {
	return resolver.CorrectionRequest{
		CorrectionID:  c.CorrectionID,
		MatchID:       c.MatchID,
		TargetEventID: c.TargetEventID,
		Reason:        c.Reason,
		Change:        c.ProposedChange,
		ReviewReason:  reviewReason(c.CorrectionID),
	}
}

func (p *Pipeline) clearReview(ctx context.Context, c model.Correction) {
	if err := p.applier.SetReview(ctx, c.MatchID, reviewReason(c.CorrectionID), false); err != nil {
		p.log.Warn(ctx, "could not clear review",
			logger.String("match_id", c.MatchID), logger.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, c model.Correction, action, actor, reason string) audit.Record {
	rec, err := p.audit.Append(ctx, audit.Record{
		Kind:    audit.KindCorrection,
		MatchID: c.MatchID,
		Subject: c.CorrectionID,
		Action:  action,
		Actor:   actor,
		Reason:  reason,
		Before:  audit.JSON(c.BeforeState),
		After:   audit.JSON(c.AfterState),
		Detail:  audit.JSON(c),
	})
	if err != nil {
		p.log.Error(ctx, "audit append failed",
			logger.String("correction_id", c.CorrectionID), logger.Error(err))
	}
	return rec
}

func reviewReason(id string) string {
	return model.ReviewCorrectionPfx + id
}
