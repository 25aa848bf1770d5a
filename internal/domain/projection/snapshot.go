package projection

import (
	"context"
	"sort"
	"sync"
)

// SnapshotStore keeps known-good match projections as rebuild checkpoints.
type SnapshotStore interface {
	Save(ctx context.Context, p *MatchProjection) error
	// Load returns the newest snapshot with LedgerVersion <= maxVersion
	// (any version when maxVersion <= 0), or nil.
	Load(ctx context.Context, matchID string, maxVersion int64) (*MatchProjection, error)
}

// MemorySnapshots is an in-process SnapshotStore.
type MemorySnapshots struct {
	mu    sync.RWMutex
	snaps map[string][]*MatchProjection
}

// NewMemorySnapshots creates an empty store.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{snaps: make(map[string][]*MatchProjection)}
}

// Save implements SnapshotStore.
func (m *MemorySnapshots) Save(_ context.Context, p *MatchProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.snaps[p.MatchID]
	i := sort.Search(len(list), func(i int) bool { return list[i].LedgerVersion >= p.LedgerVersion })
	if i < len(list) && list[i].LedgerVersion == p.LedgerVersion {
		list[i] = p.Clone()
		return nil
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = p.Clone()
	m.snaps[p.MatchID] = list
	return nil
}

// Load implements SnapshotStore.
func (m *MemorySnapshots) Load(_ context.Context, matchID string, maxVersion int64) (*MatchProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snaps[matchID]
	for i := len(list) - 1; i >= 0; i-- {
		if maxVersion <= 0 || list[i].LedgerVersion <= maxVersion {
			return list[i].Clone(), nil
		}
	}
	return nil, nil
}
