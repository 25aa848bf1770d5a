package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/matchday/internal/domain/model"
)

// QuarantineStatus is the lifecycle of a held event.
type QuarantineStatus string

// Quarantine statuses. RELEASED means a later corroborating report let the
// event through; APPROVED means an operator did.
const (
	QuarantinePending  QuarantineStatus = "PENDING"
	QuarantineApproved QuarantineStatus = "APPROVED"
	QuarantineRejected QuarantineStatus = "REJECTED"
	QuarantineReleased QuarantineStatus = "RELEASED"
)

// QuarantineRecord is an event held back from the ledger.
type QuarantineRecord struct {
	ID        string               `json:"id"`
	Event     model.CanonicalEvent `json:"event"`
	Reason    string               `json:"reason"`
	Status    QuarantineStatus     `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	DecidedAt *time.Time           `json:"decided_at,omitempty"`
	DecidedBy string               `json:"decided_by,omitempty"`
	Note      string               `json:"note,omitempty"`
	// Sequence is the event sequence number once the record was let through.
	Sequence int64 `json:"sequence_number,omitempty"`
}

// QuarantineStore persists quarantine records.
type QuarantineStore interface {
	Put(ctx context.Context, rec QuarantineRecord) error
	Get(ctx context.Context, id string) (QuarantineRecord, error)
	// Update replaces an existing record.
	Update(ctx context.Context, rec QuarantineRecord) error
	// List returns records with the given status (all when empty), oldest first.
	List(ctx context.Context, status QuarantineStatus) ([]QuarantineRecord, error)
}

// MemoryQuarantine is an in-process QuarantineStore.
type MemoryQuarantine struct {
	mu   sync.RWMutex
	recs map[string]QuarantineRecord
}

// NewMemoryQuarantine creates an empty store.
func NewMemoryQuarantine() *MemoryQuarantine {
	return &MemoryQuarantine{recs: make(map[string]QuarantineRecord)}
}

// Put implements QuarantineStore.
func (m *MemoryQuarantine) Put(_ context.Context, rec QuarantineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; ok {
		return fmt.Errorf("quarantine record %s already exists", rec.ID)
	}
	m.recs[rec.ID] = rec
	return nil
}

// Get implements QuarantineStore.
func (m *MemoryQuarantine) Get(_ context.Context, id string) (QuarantineRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return QuarantineRecord{}, fmt.Errorf("%w: quarantine %s", model.ErrNotFound, id)
	}
	return rec, nil
}

// Update implements QuarantineStore.
func (m *MemoryQuarantine) Update(_ context.Context, rec QuarantineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; !ok {
		return fmt.Errorf("%w: quarantine %s", model.ErrNotFound, rec.ID)
	}
	m.recs[rec.ID] = rec
	return nil
}

// List implements QuarantineStore.
func (m *MemoryQuarantine) List(_ context.Context, status QuarantineStatus) ([]QuarantineRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]QuarantineRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
