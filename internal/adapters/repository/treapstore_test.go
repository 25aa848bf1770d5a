package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/metrics"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	if count := store.Count(ctx, "s1"); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	if err := store.Set(ctx, "s1", "p1", decimal.RequireFromString("85.5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count := store.Count(ctx, "s1"); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := store.Rank(ctx, "s1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 {
		t.Errorf("expected rank 1, got %d", entry.Rank)
	}
	if entry.Total.String() != "85.5" {
		t.Errorf("expected total 85.5, got %s", entry.Total)
	}

	entries, err := store.TopN(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].PlayerID != "p1" || entries[0].SeasonID != "s1" {
		t.Errorf("unexpected top entries: %+v", entries)
	}
}

func TestTreapStore_TotalsMoveBothWays(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	_ = store.Set(ctx, "s1", "p1", d(20))
	_ = store.Set(ctx, "s1", "p2", d(15))

	// A correction lowers p1 below p2.
	if err := store.Set(ctx, "s1", "p1", d(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top, _ := store.TopN(ctx, "s1", 2)
	if top[0].PlayerID != "p2" || top[1].PlayerID != "p1" {
		t.Errorf("expected p2 then p1, got %+v", top)
	}
	if store.Count(ctx, "s1") != 2 {
		t.Errorf("expected 2 players after update, got %d", store.Count(ctx, "s1"))
	}
}

func TestTreapStore_TiesShareRank(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	_ = store.Set(ctx, "s1", "c", d(30))
	_ = store.Set(ctx, "s1", "a", d(20))
	_ = store.Set(ctx, "s1", "b", d(20))
	_ = store.Set(ctx, "s1", "d", d(10))

	top, err := store.TopN(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantIDs := []string{"c", "a", "b", "d"}
	wantRanks := []int{1, 2, 2, 4}
	for i := range top {
		if top[i].PlayerID != wantIDs[i] || top[i].Rank != wantRanks[i] {
			t.Errorf("position %d: got %s rank %d, want %s rank %d", i, top[i].PlayerID, top[i].Rank, wantIDs[i], wantRanks[i])
		}
	}
	for i, id := range wantIDs {
		st, err := store.Rank(ctx, "s1", id)
		if err != nil {
			t.Fatalf("rank %s: %v", id, err)
		}
		if st.Rank != wantRanks[i] {
			t.Errorf("rank of %s: got %d, want %d", id, st.Rank, wantRanks[i])
		}
	}
}

func TestTreapStore_SeasonsAreSeparate(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	_ = store.Set(ctx, "2025", "p1", d(5))
	_ = store.Set(ctx, "2026", "p1", d(50))

	st, _ := store.Rank(ctx, "2025", "p1")
	if !st.Total.Equal(d(5)) {
		t.Errorf("expected 5 in 2025, got %s", st.Total)
	}
	if got := store.Seasons(ctx); len(got) != 2 || got[0] != "2025" {
		t.Errorf("unexpected seasons %v", got)
	}
	if _, err := store.Rank(ctx, "2024", "p1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTreapStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	_ = store.Set(ctx, "s1", "p1", d(5))
	if err := store.Remove(ctx, "s1", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Rank(ctx, "s1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Remove(ctx, "s1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestTreapStore_InvalidLimit(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	if _, err := store.TopN(ctx, "s1", 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
	top, err := store.TopN(ctx, "unknown", 3)
	if err != nil || len(top) != 0 {
		t.Errorf("expected empty table, got %v %v", top, err)
	}
}

func TestTreapStore_MatchesSortedOrder(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	rng := rand.New(rand.NewSource(7))
	totals := make(map[string]int64)
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("p%03d", rng.Intn(200))
		v := int64(rng.Intn(100))
		totals[id] = v
		_ = store.Set(ctx, "s1", id, d(v))
	}

	top, err := store.TopN(ctx, "s1", len(totals))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != len(totals) {
		t.Fatalf("expected %d entries, got %d", len(totals), len(top))
	}
	for i := 1; i < len(top); i++ {
		if less(top[i].Total, top[i].PlayerID, top[i-1].Total, top[i-1].PlayerID) {
			t.Fatalf("out of order at %d: %+v before %+v", i, top[i-1], top[i])
		}
	}
	for _, st := range top {
		r, _ := store.Rank(ctx, "s1", st.PlayerID)
		if r.Rank != st.Rank {
			t.Errorf("rank mismatch for %s: TopN %d, Rank %d", st.PlayerID, st.Rank, r.Rank)
		}
		if !st.Total.Equal(d(totals[st.PlayerID])) {
			t.Errorf("total mismatch for %s", st.PlayerID)
		}
	}
}

func TestTreapStore_Concurrency(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("p%d", (w*200+i)%300)
				_ = store.Set(ctx, "s1", id, d(int64(i)))
				_, _ = store.Rank(ctx, "s1", id)
				_, _ = store.TopN(ctx, "s1", 10)
			}
		}(w)
	}
	wg.Wait()

	if store.Count(ctx, "s1") != 300 {
		t.Errorf("expected 300 players, got %d", store.Count(ctx, "s1"))
	}
}

func standingsGauge(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "matchday_engine_standings_records" && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func TestTreapStore_MetricsUpdateInterval(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(ctx, WithMetricsUpdateInterval(10*time.Millisecond))
	defer store.Close()

	for i := 0; i < 7; i++ {
		_ = store.Set(ctx, "metrics-season", fmt.Sprintf("p%d", i), d(int64(i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for standingsGauge(t) != 7 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := standingsGauge(t); got != 7 {
		t.Errorf("expected standings gauge 7, got %v", got)
	}
}

func BenchmarkTreapStore_Set(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()
	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Set(ctx, "s1", fmt.Sprintf("p%d", rng.Intn(100000)), d(int64(rng.Intn(1000))))
	}
}

func BenchmarkTreapStore_Rank(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore(ctx)
	defer store.Close()
	for i := 0; i < 100000; i++ {
		_ = store.Set(ctx, "s1", fmt.Sprintf("p%d", i), d(int64(i%1000)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Rank(ctx, "s1", fmt.Sprintf("p%d", i%100000))
	}
}
