package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/pkg/metrics"
)

// Treap-based, in-memory standings, one tree per season.
//
// Ordering: total DESC, then playerID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the table from
// best to worst. Priorities hash the player id, which keeps the shape
// independent of insertion order.

type node struct {
	id    string
	total decimal.Decimal
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aTotal, aID) should appear before (bTotal, bID).
func less(aTotal decimal.Decimal, aID string, bTotal decimal.Decimal, bID string) bool {
	if c := aTotal.Cmp(bTotal); c != 0 {
		return c > 0
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func priority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, id string, total decimal.Decimal) *node {
	if n == nil {
		return &node{id: id, total: total, prio: priority(id), size: 1}
	}
	if less(total, id, n.total, n.id) {
		n.left = insert(n.left, id, total)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, total)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, total decimal.Decimal) *node {
	if n == nil {
		return nil
	}
	if id == n.id && total.Equal(n.total) {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, total)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, total)
		}
	} else if less(total, id, n.total, n.id) {
		n.left = deleteNode(n.left, id, total)
	} else {
		n.right = deleteNode(n.right, id, total)
	}
	fix(n)
	return n
}

// countAbove returns how many players have a strictly higher total.
func countAbove(n *node, total decimal.Decimal) int {
	count := 0
	for n != nil {
		if n.total.Cmp(total) > 0 {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]projection.Standing) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, projection.Standing{PlayerID: n.id, Total: n.total})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// board is one season table.
type board struct {
	root *node
	byID map[string]record
}

// TreapStore implements Store with one treap per season.
type TreapStore struct {
	mu                    sync.RWMutex
	boards                map[string]*board
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		boards:                make(map[string]*board),
		metricsUpdateInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stopChan = make(chan struct{})
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background metrics goroutine.
func (s *TreapStore) Close() error {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	s.wg.Wait()
	return nil
}

// Set implements Store.Set with O(log n) expected time.
func (s *TreapStore) Set(_ context.Context, seasonID, playerID string, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boards[seasonID]
	if b == nil {
		b = &board{byID: make(map[string]record)}
		s.boards[seasonID] = b
	}
	if old, ok := b.byID[playerID]; ok {
		if old.total.Equal(total) {
			return nil
		}
		b.root = deleteNode(b.root, playerID, old.total)
	}
	b.byID[playerID] = record{total: total}
	b.root = insert(b.root, playerID, total)
	return nil
}

// Remove implements Store.
func (s *TreapStore) Remove(_ context.Context, seasonID, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.boards[seasonID]
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, playerID)
	}
	old, ok := b.byID[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, playerID)
	}
	b.root = deleteNode(b.root, playerID, old.total)
	delete(b.byID, playerID)
	return nil
}

// Rank returns the standing of a player in O(log n). Equal totals share a
// rank and the next rank skips the tied positions.
func (s *TreapStore) Rank(_ context.Context, seasonID, playerID string) (projection.Standing, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStandingsQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.boards[seasonID]
	if b == nil {
		metrics.RecordErrorByComponent("repository", "not_found")
		return projection.Standing{}, fmt.Errorf("%w: %s", ErrNotFound, playerID)
	}
	rec, ok := b.byID[playerID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return projection.Standing{}, fmt.Errorf("%w: %s", ErrNotFound, playerID)
	}
	return projection.Standing{
		Rank:     countAbove(b.root, rec.total) + 1,
		PlayerID: playerID,
		SeasonID: seasonID,
		Total:    rec.total,
	}, nil
}

// TopN returns the top n standings ordered by total desc.
func (s *TreapStore) TopN(_ context.Context, seasonID string, n int) ([]projection.Standing, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.boards[seasonID]
	if b == nil {
		return []projection.Standing{}, nil
	}
	out := make([]projection.Standing, 0, min(n, len(b.byID)))
	collectTopN(b.root, n, &out)
	assignRanksWithTies(out)
	for i := range out {
		out[i].SeasonID = seasonID
	}
	return out, nil
}

// Count returns the number of ranked players in a season.
func (s *TreapStore) Count(_ context.Context, seasonID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b := s.boards[seasonID]; b != nil {
		return len(b.byID)
	}
	return 0
}

// Seasons implements Store.
func (s *TreapStore) Seasons(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.boards))
	for id := range s.boards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// assignRanksWithTies sets competition ranks on a slice that starts at the
// top of the table: equal totals share a rank and the next rank skips the
// tied positions.
func assignRanksWithTies(entries []projection.Standing) {
	for i := range entries {
		if i > 0 && entries[i].Total.Equal(entries[i-1].Total) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// startMetricsUpdater periodically publishes the number of ranked players.
func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *TreapStore) updateMetrics() {
	s.mu.RLock()
	total := 0
	for _, b := range s.boards {
		total += len(b.byID)
	}
	s.mu.RUnlock()
	metrics.UpdateStandingsRecords(total)
}
