package correction

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/matchday/internal/domain/model"
)

// Store persists corrections while they move through the pipeline.
type Store interface {
	Put(ctx context.Context, c model.Correction) error
	Get(ctx context.Context, id string) (model.Correction, error)
	Update(ctx context.Context, c model.Correction) error
	// List returns the corrections of a match (all matches when empty),
	// oldest first.
	List(ctx context.Context, matchID string) ([]model.Correction, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]model.Correction
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]model.Correction)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, c model.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.CorrectionID]; ok {
		return fmt.Errorf("correction %s already exists", c.CorrectionID)
	}
	s.byID[c.CorrectionID] = c
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return model.Correction{}, fmt.Errorf("correction %s: %w", id, model.ErrNotFound)
	}
	return c, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, c model.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.CorrectionID]; !ok {
		return fmt.Errorf("correction %s: %w", c.CorrectionID, model.ErrNotFound)
	}
	s.byID[c.CorrectionID] = c
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, matchID string) ([]model.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Correction
	for _, c := range s.byID {
		if matchID == "" || c.MatchID == matchID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].CorrectionID < out[j].CorrectionID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
