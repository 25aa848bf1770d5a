// Package audit keeps the immutable history of operator-facing decisions:
// quarantines, corrections, re-pins and tie-break draws.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind groups audit records.
type Kind string

// Record kinds.
const (
	KindQuarantine Kind = "quarantine"
	KindCorrection Kind = "correction"
	KindRepin      Kind = "repin"
	KindTieBreak   Kind = "tiebreak"
)

// Actions recorded against a subject.
const (
	ActionQuarantined = "QUARANTINED"
	ActionReleased    = "RELEASED"
	ActionApproved    = "APPROVED"
	ActionRejected    = "REJECTED"
	ActionSubmitted   = "SUBMITTED"
	ActionApplied     = "APPLIED"
	ActionFailed      = "FAILED"
	ActionRepinned    = "REPINNED"
	ActionResolved    = "RESOLVED"
)

// ErrNotFound is returned for unknown record ids.
var ErrNotFound = errors.New("audit record not found")

// Record is one immutable audit entry. Before and After hold JSON snapshots
// of the affected state; Detail holds the full decision payload.
type Record struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	MatchID string          `json:"match_id,omitempty"`
	Subject string          `json:"subject"`
	Action  string          `json:"action"`
	Actor   string          `json:"actor,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
	At      time.Time       `json:"at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind    Kind
	MatchID string
	Subject string
	Since   time.Time
	Limit   int
}

// Match reports whether rec passes the filter (Limit aside).
func (f Filter) Match(rec Record) bool {
	switch {
	case f.Kind != "" && rec.Kind != f.Kind:
		return false
	case f.MatchID != "" && rec.MatchID != f.MatchID:
		return false
	case f.Subject != "" && rec.Subject != f.Subject:
		return false
	case !f.Since.IsZero() && rec.At.Before(f.Since):
		return false
	}
	return true
}

// Log is an append-only audit store.
type Log interface {
	// Append assigns ID and At when empty and stores the record.
	Append(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// List returns matching records oldest first.
	List(ctx context.Context, f Filter) ([]Record, error)
}

// Prepare fills ID and At. Stores call it before writing.
func Prepare(rec Record, now func() time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = now().UTC()
	}
	return rec
}

// JSON marshals v for Before/After/Detail, never failing the caller.
func JSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return b
}

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
	now     func() time.Time
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byID: make(map[string]int), now: time.Now}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, rec Record) (Record, error) {
	rec = Prepare(rec, l.now)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[rec.ID]; dup {
		return Record{}, fmt.Errorf("audit record %s already exists", rec.ID)
	}
	l.byID[rec.ID] = len(l.records)
	l.records = append(l.records, rec)
	return rec, nil
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, id string) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.records[i], nil
}

// List implements Log.
func (l *MemoryLog) List(_ context.Context, f Filter) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, rec := range l.records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
