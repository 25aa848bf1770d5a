package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/pkg/logger"
	"github.com/okian/matchday/pkg/metrics"
)

// Listener receives every projection the builder publishes.
type Listener func(ctx context.Context, p *MatchProjection)

// Builder maintains live projections from ledger appends and answers
// historical reads by folding the ledger.
type Builder struct {
	store      ledger.Store
	snaps      SnapshotStore
	standings  Standings
	partitions int
	log        logger.Logger

	mu        sync.RWMutex
	matches   map[string]*MatchProjection
	seasons   map[string]map[string]*PlayerSeasonProjection
	snapped   map[string]int64
	listeners []Listener
}

// NewBuilder creates a builder reading store.
func NewBuilder(store ledger.Store, opts ...Option) *Builder {
	b := &Builder{
		store:      store,
		partitions: 4,
		matches:    make(map[string]*MatchProjection),
		seasons:    make(map[string]map[string]*PlayerSeasonProjection),
		snapped:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.snaps == nil {
		b.snaps = NewMemorySnapshots()
	}
	if b.standings == nil {
		b.standings = sortedStandings{b: b}
	}
	if b.log == nil {
		b.log = logger.Named("projection")
	}
	return b
}

// Subscribe registers l for published projections.
func (b *Builder) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// OnAppend folds freshly appended entries into the live projection. It
// matches resolver.AppendHook.
func (b *Builder) OnAppend(ctx context.Context, matchID string, entries []ledger.Entry) {
	b.mu.Lock()
	p, ok := b.matches[matchID]
	var err error
	if ok {
		next := p.Clone()
		for _, e := range entries {
			if err = next.Apply(e); err != nil {
				break
			}
		}
		if err == nil {
			p = next
		}
	}
	b.mu.Unlock()

	if !ok || err != nil {
		if err != nil {
			b.log.Warn(ctx, "incremental fold failed, rebuilding",
				logger.String("match_id", matchID), logger.Error(err))
		}
		if _, rerr := b.Rebuild(ctx, matchID); rerr != nil {
			b.log.Error(ctx, "projection rebuild failed", logger.String("match_id", matchID), logger.Error(rerr))
		}
		return
	}
	b.publish(ctx, p)
}

// publish installs p as the live projection and propagates season totals.
func (b *Builder) publish(ctx context.Context, p *MatchProjection) {
	b.mu.Lock()
	if cur, ok := b.matches[p.MatchID]; ok && !cur.Stale && cur.LedgerVersion > p.LedgerVersion {
		b.mu.Unlock()
		return
	}
	b.matches[p.MatchID] = p
	players := b.seasons[p.SeasonID]
	if players == nil {
		players = make(map[string]*PlayerSeasonProjection)
		b.seasons[p.SeasonID] = players
	}
	changed := make([]PlayerSeasonProjection, 0, len(p.Players))
	for id, line := range p.Players {
		ps := players[id]
		if ps == nil {
			ps = &PlayerSeasonProjection{PlayerID: id, SeasonID: p.SeasonID, Matches: make(map[string]decimal.Decimal)}
			players[id] = ps
		}
		if cur, ok := ps.Matches[p.MatchID]; ok && cur.Equal(line.Total) {
			continue
		}
		ps.set(p.MatchID, line.Total)
		changed = append(changed, ps.clone())
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, ps := range changed {
		if err := b.standings.Set(ctx, ps.SeasonID, ps.PlayerID, ps.Total); err != nil {
			b.log.Error(ctx, "standings update failed",
				logger.String("season_id", ps.SeasonID), logger.String("player_id", ps.PlayerID), logger.Error(err))
		}
	}
	for _, l := range listeners {
		l(ctx, p.Clone())
	}
}

// Rebuild folds a match from its latest snapshot to the ledger head and
// publishes the result. On failure the projection stops at the last
// verifiable entry, is flagged stale and a ProjectionRebuildFailure is
// returned alongside it.
func (b *Builder) Rebuild(ctx context.Context, matchID string) (*MatchProjection, error) {
	start := time.Now()
	p, err := b.fold(ctx, matchID, 0)
	result := "ok"
	if err != nil {
		result = "stale"
	}
	metrics.RecordProjectionRebuild(result, float64(time.Since(start).Milliseconds()))
	if p.LedgerVersion > 0 {
		b.publish(ctx, p)
	}
	return p.Clone(), err
}

// fold replays the ledger onto the newest snapshot at or below asOf.
func (b *Builder) fold(ctx context.Context, matchID string, asOf int64) (*MatchProjection, error) {
	p, err := b.snaps.Load(ctx, matchID, asOf)
	if err != nil || p == nil {
		if err != nil {
			b.log.Warn(ctx, "snapshot load failed, folding from genesis",
				logger.String("match_id", matchID), logger.Error(err))
		}
		p = NewMatchProjection(matchID)
	}
	p.Stale = false

	entries, err := b.store.Read(ctx, matchID, p.LedgerVersion+1, asOf)
	if err != nil {
		p.Stale = true
		return p, &model.ProjectionRebuildFailure{MatchID: matchID, FailedAt: p.LedgerVersion + 1, ServedAsOf: p.LedgerVersion, Err: err}
	}
	for _, e := range entries {
		if err := p.Apply(e); err != nil {
			p.Stale = true
			return p, &model.ProjectionRebuildFailure{MatchID: matchID, FailedAt: e.Seq, ServedAsOf: p.LedgerVersion, Err: err}
		}
	}
	return p, nil
}

// Match returns the projection of a match as of ledger version asOf (the
// head when asOf <= 0). Unknown matches fail with model.ErrNotFound. A
// projection that could not be folded completely is returned flagged stale
// together with its ProjectionRebuildFailure.
func (b *Builder) Match(ctx context.Context, matchID string, asOf int64) (*MatchProjection, error) {
	b.mu.RLock()
	live, ok := b.matches[matchID]
	if ok && !live.Stale && (asOf <= 0 || asOf == live.LedgerVersion) {
		p := live.Clone()
		b.mu.RUnlock()
		return p, nil
	}
	b.mu.RUnlock()

	if asOf <= 0 {
		p, err := b.Rebuild(ctx, matchID)
		if err == nil && p.LedgerVersion == 0 {
			return nil, fmt.Errorf("%w: match %s", model.ErrNotFound, matchID)
		}
		return p, err
	}
	p, err := b.fold(ctx, matchID, asOf)
	if err == nil && p.LedgerVersion == 0 {
		return nil, fmt.Errorf("%w: match %s", model.ErrNotFound, matchID)
	}
	return p, err
}

// PlayerSeason returns a player's season projection.
func (b *Builder) PlayerSeason(_ context.Context, seasonID, playerID string) (PlayerSeasonProjection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ps, ok := b.seasons[seasonID][playerID]
	if !ok {
		return PlayerSeasonProjection{}, fmt.Errorf("%w: player %s in season %s", model.ErrNotFound, playerID, seasonID)
	}
	return ps.clone(), nil
}

// Season returns the top limit standings of a season.
func (b *Builder) Season(ctx context.Context, seasonID string, limit int) ([]Standing, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStandingsQueryLatency(float64(time.Since(start).Milliseconds()))
	}()
	return b.standings.TopN(ctx, seasonID, limit)
}

// Rank returns one player's standing.
func (b *Builder) Rank(ctx context.Context, seasonID, playerID string) (Standing, error) {
	return b.standings.Rank(ctx, seasonID, playerID)
}

// SeasonMatches lists the live projections of a season ordered by match id.
func (b *Builder) SeasonMatches(_ context.Context, seasonID string) []*MatchProjection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*MatchProjection
	for _, p := range b.matches {
		if p.SeasonID == seasonID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// RebuildAll refolds every match in the store, partitions in parallel and
// matches within a partition in order. Per-match failures are collected
// and do not stop other matches.
func (b *Builder) RebuildAll(ctx context.Context) error {
	ids, err := b.store.Matches(ctx)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	parts := make([][]string, b.partitions)
	for _, id := range ids {
		i := model.Partition(id, b.partitions)
		parts[i] = append(parts[i], id)
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		g.Go(func() error {
			for _, id := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				if _, err := b.Rebuild(gctx, id); err != nil {
					var rf *model.ProjectionRebuildFailure
					if !errors.As(err, &rf) {
						return err
					}
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.log.Info(ctx, "projections rebuilt",
		logger.Int("matches", len(ids)), logger.Int("failures", len(failures)))
	return errors.Join(failures...)
}

// Snapshot saves every live projection that advanced since its last snapshot.
func (b *Builder) Snapshot(ctx context.Context) error {
	b.mu.RLock()
	var due []*MatchProjection
	for id, p := range b.matches {
		if !p.Stale && p.LedgerVersion > b.snapped[id] {
			due = append(due, p.Clone())
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, p := range due {
		if err := b.snaps.Save(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", p.MatchID, err))
			continue
		}
		metrics.IncrementProjectionSnapshots()
		b.mu.Lock()
		if p.LedgerVersion > b.snapped[p.MatchID] {
			b.snapped[p.MatchID] = p.LedgerVersion
		}
		b.mu.Unlock()
	}
	return errors.Join(errs...)
}

// RunSnapshots saves snapshots every interval until ctx is done.
func (b *Builder) RunSnapshots(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Snapshot(ctx); err != nil {
				b.log.Error(ctx, "projection snapshot failed", logger.Error(err))
			}
		}
	}
}
