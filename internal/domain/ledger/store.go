package ledger

import (
	"context"
	"sort"
	"sync"
)

// Store persists one append-only log per match.
type Store interface {
	// Append writes sealed entries after the current head. Entries whose
	// Seq does not follow the head fail with ErrOutOfSequence and entries
	// that do not chain fail with ErrChainMismatch; nothing is written.
	Append(ctx context.Context, matchID string, entries ...Entry) error
	// Read returns entries with from <= Seq <= to; to <= 0 means the head.
	Read(ctx context.Context, matchID string, from, to int64) ([]Entry, error)
	// Head returns the last entry, or nil for an empty log.
	Head(ctx context.Context, matchID string) (*Entry, error)
	// Matches lists every match with at least one entry.
	Matches(ctx context.Context) ([]string, error)
}

// CheckAppend validates entries against head before a write.
func CheckAppend(head *Entry, entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyAppend
	}
	prev := head
	for i := range entries {
		if err := VerifyLink(prev, entries[i]); err != nil {
			return err
		}
		prev = &entries[i]
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]Entry)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, matchID string, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[matchID]
	var head *Entry
	if len(log) > 0 {
		head = &log[len(log)-1]
	}
	if err := CheckAppend(head, entries); err != nil {
		return err
	}
	s.logs[matchID] = append(log, entries...)
	return nil
}

// Read implements Store.
func (s *MemoryStore) Read(_ context.Context, matchID string, from, to int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[matchID]
	if from < 1 {
		from = 1
	}
	if to <= 0 || to > int64(len(log)) {
		to = int64(len(log))
	}
	if from > to {
		return nil, nil
	}
	out := make([]Entry, to-from+1)
	copy(out, log[from-1:to])
	return out, nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, matchID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[matchID]
	if len(log) == 0 {
		return nil, nil
	}
	e := log[len(log)-1]
	return &e, nil
}

// Matches implements Store.
func (s *MemoryStore) Matches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for id := range s.logs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
