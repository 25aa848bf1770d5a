package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matchday/internal/adapters/mq/queue"
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
)

var kickoff = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "matchday.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func goal(id string, minute int) model.CanonicalEvent {
	return model.CanonicalEvent{
		EventID: id, MatchID: "m1", PlayerID: "p1", SportID: "football", EventType: "GOAL",
		Timestamp: kickoff.Add(time.Duration(minute) * time.Minute), Minute: minute, ProviderID: "opta",
	}
}

func registry(t *testing.T) *scoring.Registry {
	t.Helper()
	reg := scoring.NewRegistry()
	require.NoError(t, reg.Publish(scoring.RuleSet{SportID: "football", Version: 1, Rules: []scoring.Rule{
		{ID: "goal", EventType: "GOAL", BasePoints: decimal.NewFromInt(10)},
	}}))
	return reg
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matchday.db")
	for i := 0; i < 3; i++ {
		db, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, db.Close())
	}
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"ledger_entries", "audit_records", "quarantine_records", "corrections", "projection_snapshots", "provider_queue"} {
		var name string
		err := db.SQL().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestLedger_ResolverRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "matchday.db")
	db, err := Open(path)
	require.NoError(t, err)

	r := resolver.New(db.Ledger(), registry(t))
	require.NoError(t, r.Schedule(ctx, model.MatchInfo{MatchID: "m1", SportID: "football", SeasonID: "s1", RulesetVersion: 1}))
	_, err = r.Accept(ctx, goal("e1", 10))
	require.NoError(t, err)
	_, err = r.Accept(ctx, goal("e2", 20))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A new process sees the same chain and continues it.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	store := db.Ledger()

	entries, err := store.Read(ctx, "m1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	bad, err := ledger.Verify(entries)
	require.NoError(t, err)
	assert.Equal(t, -1, bad)

	r = resolver.New(store, registry(t))
	res, err := r.Accept(ctx, goal("e3", 30))
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.LedgerVersion)
	st, err := r.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "30", st.Totals["p1"].String())

	ranged, err := store.Read(ctx, "m1", 3, 4)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, ledger.KindEvent, ranged[0].Kind)
	assert.Equal(t, ledger.KindDelta, ranged[1].Kind)

	matches, err := store.Matches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, matches)
}

func TestLedger_RejectsBrokenAppends(t *testing.T) {
	ctx := context.Background()
	store := openTest(t).Ledger()

	head, err := store.Head(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, head)

	first, err := ledger.Seal(nil, ledger.Entry{MatchID: "m1", Kind: ledger.KindSchedule, Schedule: &model.MatchInfo{MatchID: "m1", SportID: "football"}})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "m1", first))

	err = store.Append(ctx, "m1", first)
	assert.True(t, errors.Is(err, ledger.ErrOutOfSequence), "got %v", err)

	forged, err := ledger.Seal(&ledger.Entry{Seq: 1, Hash: "forged"}, ledger.Entry{MatchID: "m1", Kind: ledger.KindReview, Review: &ledger.Review{Reason: "x", Active: true}})
	require.NoError(t, err)
	err = store.Append(ctx, "m1", forged)
	assert.True(t, errors.Is(err, ledger.ErrChainMismatch), "got %v", err)

	entries, err := store.Read(ctx, "m1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	log := openTest(t).AuditLog()

	a, err := log.Append(ctx, audit.Record{Kind: audit.KindCorrection, MatchID: "m1", Subject: "c1", Action: audit.ActionSubmitted, Detail: audit.JSON(map[string]int{"n": 1})})
	require.NoError(t, err)
	_, err = log.Append(ctx, audit.Record{Kind: audit.KindQuarantine, MatchID: "m2", Subject: "q1", Action: audit.ActionQuarantined})
	require.NoError(t, err)
	_, err = log.Append(ctx, audit.Record{Kind: audit.KindCorrection, MatchID: "m1", Subject: "c1", Action: audit.ActionApplied})
	require.NoError(t, err)

	_, err = log.Append(ctx, a)
	assert.Error(t, err)

	got, err := log.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got.Detail))

	_, err = log.Get(ctx, "missing")
	assert.True(t, errors.Is(err, audit.ErrNotFound))

	recs, err := log.List(ctx, audit.Filter{Kind: audit.KindCorrection, Subject: "c1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ActionSubmitted, recs[0].Action)
	assert.Equal(t, audit.ActionApplied, recs[1].Action)

	all, err := log.List(ctx, audit.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQuarantineAndCorrections(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	q := db.Quarantine()
	rec := ingest.QuarantineRecord{ID: "q1", Event: goal("e1", 10), Reason: "uncorroborated", Status: ingest.QuarantinePending, CreatedAt: kickoff}
	require.NoError(t, q.Put(ctx, rec))
	assert.Error(t, q.Put(ctx, rec))

	rec.Status = ingest.QuarantineApproved
	rec.DecidedBy = "ops"
	require.NoError(t, q.Update(ctx, rec))
	pending, err := q.List(ctx, ingest.QuarantinePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	got, err := q.Get(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "ops", got.DecidedBy)
	_, err = q.Get(ctx, "q2")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(q.Update(ctx, ingest.QuarantineRecord{ID: "q2"}), model.ErrNotFound))

	c := db.Corrections()
	corr := model.Correction{
		CorrectionID: "c1", MatchID: "m1", TargetEventID: "e2", Reason: "VAR_OVERTURNED",
		ProposedChange: model.ProposedChange{Action: model.ActionVoid}, Status: model.CorrectionPending,
		BeforeState: model.PlayerTotals{"p1": decimal.NewFromInt(20)}, Timestamp: kickoff,
	}
	require.NoError(t, c.Put(ctx, corr))
	corr.Status = model.CorrectionApplied
	require.NoError(t, c.Update(ctx, corr))
	list, err := c.List(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.CorrectionApplied, list[0].Status)
	assert.Equal(t, "20", list[0].BeforeState["p1"].String())
	other, err := c.List(ctx, "m9")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Snapshots()

	for _, v := range []int64{4, 6} {
		p := projection.NewMatchProjection("m1")
		p.LedgerVersion = v
		p.Players["p1"] = &projection.PlayerLine{PlayerID: "p1", Total: decimal.NewFromInt(v)}
		require.NoError(t, s.Save(ctx, p))
	}

	latest, err := s.Load(ctx, "m1", 0)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(6), latest.LedgerVersion)

	older, err := s.Load(ctx, "m1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), older.LedgerVersion)
	assert.Equal(t, "4", older.Players["p1"].Total.String())

	none, err := s.Load(ctx, "m2", 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_DurableRedelivery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "matchday.db")
	db, err := Open(path)
	require.NoError(t, err)

	q, err := db.Queue(ctx, 2)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "opta", goal("e1", 10))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "opta", goal("e2", 20))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "opta", goal("e3", 30))
	assert.True(t, errors.Is(err, queue.ErrFull))

	first, err := q.Next(ctx, "opta")
	require.NoError(t, err)
	assert.Equal(t, "e1", first.Event.EventID)
	require.NoError(t, q.Nack(ctx, "opta", first.ID))

	again, err := q.Next(ctx, "opta")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
	require.NoError(t, q.Ack(ctx, "opta", again.ID))
	assert.True(t, errors.Is(q.Ack(ctx, "opta", again.ID), queue.ErrUnknown))

	// e2 is in flight when the process stops.
	inflight, err := q.Next(ctx, "opta")
	require.NoError(t, err)
	assert.Equal(t, "e2", inflight.Event.EventID)
	require.NoError(t, q.Close())
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	q, err = db.Queue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"opta"}, q.Providers(ctx))
	redelivered, err := q.Next(ctx, "opta")
	require.NoError(t, err)
	assert.Equal(t, "e2", redelivered.Event.EventID)
	assert.Equal(t, 2, redelivered.Attempts)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Next(waitCtx, "genius")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
