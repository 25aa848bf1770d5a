// Package ingest admits provider events into the scoring pipeline: it
// normalizes and validates them, drops duplicates, cross-checks low-trust
// providers and holds suspect events in quarantine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/dedupe"
	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// ReceiptStatus is the outcome of a submission.
type ReceiptStatus string

// Receipt statuses.
const (
	StatusAccepted     ReceiptStatus = "ACCEPTED"
	StatusDuplicate    ReceiptStatus = "DUPLICATE"
	StatusCorroborated ReceiptStatus = "CORROBORATED"
	StatusQuarantined  ReceiptStatus = "QUARANTINED"
)

// Receipt acknowledges a submitted event.
type Receipt struct {
	Status        ReceiptStatus `json:"status"`
	Sequence      int64         `json:"sequence_number,omitempty"`
	LedgerVersion int64         `json:"ledger_version,omitempty"`
	Unscored      bool          `json:"unscored,omitempty"`
	QuarantineID  string        `json:"quarantine_id,omitempty"`
}

// Acceptor writes a validated event into its match ledger.
type Acceptor interface {
	Accept(ctx context.Context, ev model.CanonicalEvent, opts ...resolver.AcceptOption) (resolver.Result, error)
}

// Sequencer runs fn serialized with everything else for matchID.
type Sequencer interface {
	Do(ctx context.Context, matchID string, fn func(ctx context.Context) error) error
}

type direct struct{}

func (direct) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service is the ingestion entry point shared by HTTP and queue consumers.
type Service struct {
	acceptor   Acceptor
	dedupe     dedupe.Deduper
	verifier   *Verifier
	seq        Sequencer
	quarantine QuarantineStore
	audit      audit.Log
	minutes    int
	now        func() time.Time
	log        logger.Logger
}

// NewService creates a Service around acceptor.
func NewService(acceptor Acceptor, opts ...Option) *Service {
	s := &Service{
		acceptor: acceptor,
		seq:      direct{},
		minutes:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dedupe == nil {
		s.dedupe = dedupe.NewInMemoryDeduper()
	}
	if s.quarantine == nil {
		s.quarantine = NewMemoryQuarantine()
	}
	if s.audit == nil {
		s.audit = audit.NewMemoryLog()
	}
	if s.log == nil {
		s.log = logger.Named("ingest")
	}
	return s
}

// IsFinal reports whether err ends processing of a delivery. Other errors
// are transient and the delivery should be retried.
func IsFinal(err error) bool {
	return err == nil ||
		model.IsInvalid(err) ||
		model.IsQuarantine(err) ||
		errors.Is(err, model.ErrDuplicateEvent) ||
		errors.Is(err, resolver.ErrMatchClosed) ||
		errors.Is(err, scoring.ErrRulesetNotFound)
}

// Submit admits one provider event. Duplicates return a DUPLICATE receipt
// together with model.ErrDuplicateEvent.
func (s *Service) Submit(ctx context.Context, ev model.CanonicalEvent) (Receipt, error) {
	ev = ev.Normalize()
	if err := ev.Validate(); err != nil {
		var ie *model.InvalidEventError
		if errors.As(err, &ie) {
			metrics.RecordEventInvalid(ie.Field)
		}
		return Receipt{}, err
	}

	key := ev.IdempotencyKey()
	if s.dedupe.SeenAndRecord(ctx, key) {
		metrics.RecordEventDuplicate()
		s.log.Debug(ctx, "duplicate event dropped", logger.String("event", key))
		return Receipt{Status: StatusDuplicate}, model.ErrDuplicateEvent
	}

	rec, err := s.process(ctx, ev)
	if !IsFinal(err) {
		s.dedupe.Unrecord(ctx, key)
	}
	return rec, err
}

// Warm records the idempotency keys of every event already in src and of
// every pending quarantine record, so redeliveries after a restart are
// dropped before they reach a match lease. It returns the number of keys.
func (s *Service) Warm(ctx context.Context, src ledger.Store) (int, error) {
	matches, err := src.Matches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ledgers: %w", err)
	}
	n := 0
	for _, id := range matches {
		entries, err := src.Read(ctx, id, 1, 0)
		if err != nil {
			return n, fmt.Errorf("read ledger %s: %w", id, err)
		}
		for _, e := range entries {
			if e.Kind == ledger.KindEvent && e.Event != nil {
				s.dedupe.SeenAndRecord(ctx, e.Event.IdempotencyKey())
				n++
			}
		}
	}
	held, err := s.quarantine.List(ctx, QuarantinePending)
	if err != nil {
		return n, fmt.Errorf("list quarantine: %w", err)
	}
	for _, rec := range held {
		s.dedupe.SeenAndRecord(ctx, rec.Event.IdempotencyKey())
		n++
	}
	return n, nil
}

func (s *Service) process(ctx context.Context, ev model.CanonicalEvent) (Receipt, error) {
	if rec, ok, err := s.releaseHeld(ctx, ev); err != nil || ok {
		return rec, err
	}

	var decision Decision
	if s.verifier != nil {
		var err error
		decision, err = s.verifier.Verify(ctx, ev)
		if err != nil {
			return s.hold(ctx, ev, err)
		}
		if decision.Corroborated {
			return Receipt{Status: StatusCorroborated, Sequence: decision.Sequence}, nil
		}
	}

	res, err := s.accept(ctx, ev)
	if errors.Is(err, model.ErrDuplicateEvent) {
		decision.Resolve(res.Sequence)
		metrics.RecordEventDuplicate()
		s.log.Debug(ctx, "event already in ledger", logger.String("event", ev.IdempotencyKey()))
		return Receipt{Status: StatusDuplicate, Sequence: res.Sequence, LedgerVersion: res.LedgerVersion}, err
	}
	if err != nil {
		decision.Abandon(err)
		return s.hold(ctx, ev, err)
	}
	decision.Resolve(res.Sequence)
	return Receipt{
		Status:        StatusAccepted,
		Sequence:      res.Sequence,
		LedgerVersion: res.LedgerVersion,
		Unscored:      res.EvaluationError != nil,
	}, nil
}

func (s *Service) accept(ctx context.Context, ev model.CanonicalEvent, opts ...resolver.AcceptOption) (resolver.Result, error) {
	var res resolver.Result
	err := s.seq.Do(ctx, ev.MatchID, func(ctx context.Context) error {
		var err error
		res, err = s.acceptor.Accept(ctx, ev, opts...)
		return err
	})
	return res, err
}

// hold quarantines ev when err is a QuarantineError and passes any other
// error through.
func (s *Service) hold(ctx context.Context, ev model.CanonicalEvent, err error) (Receipt, error) {
	var qe *model.QuarantineError
	if !errors.As(err, &qe) {
		return Receipt{}, err
	}
	rec := QuarantineRecord{
		ID:        uuid.NewString(),
		Event:     ev,
		Reason:    qe.Reason,
		Status:    QuarantinePending,
		CreatedAt: s.now().UTC(),
	}
	if perr := s.quarantine.Put(ctx, rec); perr != nil {
		return Receipt{}, fmt.Errorf("store quarantine: %w", perr)
	}
	s.record(ctx, rec, audit.ActionQuarantined, "", qe.Reason)
	metrics.RecordEventQuarantined(qe.Reason)
	s.refreshPending(ctx)
	s.log.Warn(ctx, "event quarantined",
		logger.String("match_id", ev.MatchID),
		logger.String("event", ev.IdempotencyKey()),
		logger.String("reason", qe.Reason),
		logger.String("quarantine_id", rec.ID))
	return Receipt{Status: StatusQuarantined, QuarantineID: rec.ID},
		&model.QuarantineError{Reason: qe.Reason, QuarantineID: rec.ID}
}

// releaseHeld lets a quarantined, uncorroborated report of the same fact
// through when ev comes from a different provider.
func (s *Service) releaseHeld(ctx context.Context, ev model.CanonicalEvent) (Receipt, bool, error) {
	if ev.IsLifecycle() {
		return Receipt{}, false, nil
	}
	held, err := s.quarantine.List(ctx, QuarantinePending)
	if err != nil {
		return Receipt{}, false, err
	}
	for _, rec := range held {
		q := rec.Event
		if rec.Reason != model.ReasonUncorroborated || q.FactKey() != ev.FactKey() || q.ProviderID == ev.ProviderID {
			continue
		}
		if d := q.Minute - ev.Minute; d > s.minutes || -d > s.minutes {
			continue
		}
		res, err := s.accept(ctx, q, resolver.BypassTolerance())
		if err != nil {
			return Receipt{}, false, err
		}
		now := s.now().UTC()
		rec.Status = QuarantineReleased
		rec.DecidedAt = &now
		rec.DecidedBy = "corroboration:" + ev.ProviderID
		rec.Sequence = res.Sequence
		if err := s.quarantine.Update(ctx, rec); err != nil {
			return Receipt{}, false, err
		}
		if s.verifier != nil {
			s.verifier.Record(q, res.Sequence, ev.ProviderID)
		}
		s.record(ctx, rec, audit.ActionReleased, rec.DecidedBy, "corroborated by "+ev.IdempotencyKey())
		metrics.RecordEventCorroborated()
		s.refreshPending(ctx)
		s.log.Info(ctx, "quarantined event released by corroboration",
			logger.String("quarantine_id", rec.ID),
			logger.String("event", q.IdempotencyKey()),
			logger.String("corroborated_by", ev.IdempotencyKey()))
		return Receipt{Status: StatusCorroborated, Sequence: res.Sequence, LedgerVersion: res.LedgerVersion}, true, nil
	}
	return Receipt{}, false, nil
}

// ApproveQuarantine releases a held event into the ledger on an operator's
// authority, bypassing the tolerance checks that held it.
func (s *Service) ApproveQuarantine(ctx context.Context, id, actor, note string) (Receipt, error) {
	rec, err := s.pendingRecord(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	res, err := s.accept(ctx, rec.Event, resolver.BypassTolerance())
	if err != nil {
		return Receipt{}, err
	}
	now := s.now().UTC()
	rec.Status = QuarantineApproved
	rec.DecidedAt = &now
	rec.DecidedBy = actor
	rec.Note = note
	rec.Sequence = res.Sequence
	if err := s.quarantine.Update(ctx, rec); err != nil {
		return Receipt{}, err
	}
	if s.verifier != nil {
		s.verifier.Record(rec.Event, res.Sequence)
	}
	s.record(ctx, rec, audit.ActionApproved, actor, note)
	s.refreshPending(ctx)
	return Receipt{
		Status:        StatusAccepted,
		Sequence:      res.Sequence,
		LedgerVersion: res.LedgerVersion,
		Unscored:      res.EvaluationError != nil,
	}, nil
}

// RejectQuarantine discards a held event for good.
func (s *Service) RejectQuarantine(ctx context.Context, id, actor, reason string) error {
	rec, err := s.pendingRecord(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rec.Status = QuarantineRejected
	rec.DecidedAt = &now
	rec.DecidedBy = actor
	rec.Note = reason
	if err := s.quarantine.Update(ctx, rec); err != nil {
		return err
	}
	s.record(ctx, rec, audit.ActionRejected, actor, reason)
	s.refreshPending(ctx)
	return nil
}

// Quarantined lists held events by status (all when empty).
func (s *Service) Quarantined(ctx context.Context, status QuarantineStatus) ([]QuarantineRecord, error) {
	return s.quarantine.List(ctx, status)
}

// Quarantine returns one record.
func (s *Service) Quarantine(ctx context.Context, id string) (QuarantineRecord, error) {
	return s.quarantine.Get(ctx, id)
}

func (s *Service) pendingRecord(ctx context.Context, id string) (QuarantineRecord, error) {
	rec, err := s.quarantine.Get(ctx, id)
	if err != nil {
		return QuarantineRecord{}, err
	}
	if rec.Status != QuarantinePending {
		return QuarantineRecord{}, fmt.Errorf("%w: %s is %s", ErrQuarantineDecided, id, rec.Status)
	}
	return rec, nil
}

func (s *Service) record(ctx context.Context, rec QuarantineRecord, action, actor, reason string) {
	_, err := s.audit.Append(ctx, audit.Record{
		Kind:    audit.KindQuarantine,
		MatchID: rec.Event.MatchID,
		Subject: rec.ID,
		Action:  action,
		Actor:   actor,
		Reason:  reason,
		Detail:  audit.JSON(rec),
	})
	if err != nil {
		s.log.Error(ctx, "audit append failed", logger.String("quarantine_id", rec.ID), logger.Error(err))
	}
}

func (s *Service) refreshPending(ctx context.Context) {
	held, err := s.quarantine.List(ctx, QuarantinePending)
	if err == nil {
		metrics.UpdateQuarantinePending(len(held))
	}
}
