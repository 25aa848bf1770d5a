// Package service wires the scoring engine together and exposes the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/matchday/internal/adapters/http/api"
	"github.com/okian/matchday/internal/adapters/http/stream"
	"github.com/okian/matchday/internal/adapters/mq/queue"
	"github.com/okian/matchday/internal/adapters/mq/worker"
	"github.com/okian/matchday/internal/adapters/repository"
	"github.com/okian/matchday/internal/adapters/repository/postgres"
	"github.com/okian/matchday/internal/adapters/repository/sqlite"
	"github.com/okian/matchday/internal/config"
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/correction"
	"github.com/okian/matchday/internal/domain/dedupe"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/ledger"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/internal/domain/tiebreak"
	"github.com/okian/matchday/pkg/logger"
)

// Service owns every engine component and their lifecycles.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Storage
	db        *sqlite.DB
	pool      *pgxpool.Pool
	store     ledger.Store
	auditLog  audit.Log
	standings *repository.TreapStore
	queue     queue.Queue

	// Engine
	rules       *scoring.Registry
	resolver    *resolver.Resolver
	projections *projection.Builder
	ingest      *ingest.Service
	corrections *correction.Pipeline
	tiebreak    *tiebreak.Resolver
	deduper     dedupe.Deduper

	// Runtime
	dispatcher *worker.Dispatcher
	consumers  *worker.Pool
	hub        *stream.Hub
	stopRules  func()
	cancel     context.CancelFunc
	background sync.WaitGroup

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New(context.Background())
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	return s
}

// Start opens storage, loads rulesets, recovers projections and starts the
// dispatcher and provider consumers.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting matchday service...",
		logger.String("ledger", cfg.LedgerBackend),
		logger.String("queue", cfg.QueueBackend))

	defer func() {
		if err != nil {
			s.closeStorage()
		}
	}()
	if err := s.openStorage(ctx); err != nil {
		return err
	}

	s.rules = scoring.NewRegistry()
	loader := scoring.NewLoader(cfg.RulesDir, s.rules)
	if err := loader.LoadAll(ctx); err != nil {
		return err
	}

	s.resolver = resolver.New(s.store, s.rules,
		resolver.WithLeaseTimeout(cfg.LeaseTimeout()),
		resolver.WithAutoSchedule(cfg.AutoSchedule),
		resolver.WithTolerance(resolver.Tolerance{
			MinuteBackward: cfg.ToleranceMinuteBackward,
			Backward:       time.Duration(cfg.ToleranceBackwardMS) * time.Millisecond,
			Forward:        time.Duration(cfg.ToleranceForwardMS) * time.Millisecond,
		}))

	s.standings = repository.NewTreapStore(ctx,
		repository.WithMetricsUpdateInterval(cfg.MetricsInterval()))
	s.projections = projection.NewBuilder(s.store,
		projection.WithSnapshotStore(s.snapshots()),
		projection.WithStandings(s.standings),
		projection.WithPartitions(cfg.WorkerCount))
	s.resolver.OnAppend(s.projections.OnAppend)
	if err := s.projections.RebuildAll(ctx); err != nil {
		// Stale matches keep serving their last good fold.
		s.logger.Warn(ctx, "projection recovery incomplete", logger.Error(err))
	}

	s.hub = stream.NewHub()
	s.projections.Subscribe(s.hub.OnProjection)

	s.dispatcher = worker.NewDispatcher(cfg.WorkerCount)
	s.dispatcher.Start()

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(cfg.DedupeSize),
		dedupe.WithWindow(cfg.DedupeWindow()),
	)
	verifier := ingest.NewVerifier(
		ingest.TrustPolicy{Default: strings.ToLower(cfg.DefaultTrust), Providers: cfg.Trust()},
		cfg.CorroborationQuorum, cfg.CorroborationWindow(), cfg.CorroborationMinuteTolerance)
	s.ingest = ingest.NewService(s.resolver,
		ingest.WithDeduper(s.deduper),
		ingest.WithVerifier(verifier),
		ingest.WithSequencer(s.dispatcher),
		ingest.WithQuarantineStore(s.quarantine()),
		ingest.WithAuditLog(s.auditLog),
		ingest.WithMinuteTolerance(cfg.CorroborationMinuteTolerance))
	if n, err := s.ingest.Warm(ctx, s.store); err != nil {
		s.logger.Warn(ctx, "dedupe window not restored", logger.Error(err))
	} else if n > 0 {
		s.logger.Info(ctx, "dedupe window restored", logger.Int("keys", n))
	}

	s.corrections = correction.New(s.resolver,
		correction.WithStore(s.correctionStore()),
		correction.WithAuditLog(s.auditLog),
		correction.WithNotifier(correction.Notifiers{correction.NewLogNotifier(), s.hub}),
		correction.WithRebuilder(correction.RebuilderFunc(func(ctx context.Context, matchID string) error {
			_, err := s.projections.Rebuild(ctx, matchID)
			return err
		})),
		correction.WithApprovalTiers(cfg.Roles()...))
	if err := s.corrections.Restore(ctx); err != nil {
		return fmt.Errorf("restore corrections: %w", err)
	}

	s.tiebreak = tiebreak.New(s.projections, tiebreak.WithAuditLog(s.auditLog))
	for _, tb := range cfg.TieBreak() {
		if err := s.tiebreak.Configure(tb); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if cfg.WatchRules {
		stop, err := loader.Watch(runCtx)
		if err != nil {
			cancel()
			return err
		}
		s.stopRules = stop
	}
	if cfg.SnapshotIntervalMS > 0 {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.projections.RunSnapshots(runCtx, cfg.SnapshotInterval())
		}()
	}

	s.consumers = worker.NewPool(s.queue, s.ingest,
		worker.WithBreaker(cfg.Breaker()),
		worker.WithLogger(s.logger.Named("consumers")))
	providers := make([]string, 0, len(cfg.Trust()))
	for p := range cfg.Trust() {
		providers = append(providers, p)
	}
	s.consumers.Start(runCtx, providers...)

	s.started = true
	s.logger.Info(ctx, "matchday service started",
		logger.Int("partitions", s.dispatcher.Partitions()),
		logger.Int("sports", len(s.rules.Sports())))
	return nil
}

func (s *Service) openStorage(ctx context.Context) error {
	cfg := s.cfg
	if cfg.SQLitePath != "" && (cfg.LedgerBackend != config.BackendMemory || cfg.QueueBackend == config.BackendSQLite) {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.db = db
	}

	switch cfg.LedgerBackend {
	case config.BackendSQLite:
		s.store = s.db.Ledger()
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return err
		}
		s.pool = pool
		l, err := postgres.NewLedger(ctx, pool)
		if err != nil {
			return err
		}
		s.store = l
	default:
		s.store = ledger.NewMemoryStore()
	}

	if s.db != nil {
		s.auditLog = s.db.AuditLog()
	} else {
		s.auditLog = audit.NewMemoryLog()
	}

	if cfg.QueueBackend == config.BackendSQLite {
		q, err := s.db.Queue(ctx, cfg.QueueSize)
		if err != nil {
			return err
		}
		s.queue = q
	} else {
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	}
	return nil
}

func (s *Service) snapshots() projection.SnapshotStore {
	if s.db != nil {
		return s.db.Snapshots()
	}
	return projection.NewMemorySnapshots()
}

func (s *Service) quarantine() ingest.QuarantineStore {
	if s.db != nil {
		return s.db.Quarantine()
	}
	return ingest.NewMemoryQuarantine()
}

func (s *Service) correctionStore() correction.Store {
	if s.db != nil {
		return s.db.Corrections()
	}
	return correction.NewMemoryStore()
}

func (s *Service) closeStorage() {
	if s.queue != nil && !s.queue.IsClosed() {
		_ = s.queue.Close()
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

// Stop drains consumers and the dispatcher, then closes storage.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping matchday service...")

	var errs []error
	if err := s.consumers.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("consumers: %w", err))
	}
	if err := s.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if s.stopRules != nil {
		s.stopRules()
	}
	s.cancel()
	s.background.Wait()
	if s.cfg.SnapshotIntervalMS > 0 {
		if err := s.projections.Snapshot(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		}
	}
	s.hub.Close()
	_ = s.standings.Close()
	s.closeStorage()

	s.started = false
	s.logger.Info(ctx, "matchday service stopped")
	return errors.Join(errs...)
}

// API returns the HTTP handler dependencies.
func (s *Service) API() api.Dependencies {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.Dependencies{
		Ingest:      s.ingest,
		Queue:       s.queue,
		Matches:     s.resolver,
		Projections: s.projections,
		Corrections: s.corrections,
		Quarantine:  s.ingest,
		Audit:       s.auditLog,
		TieBreak:    s.tiebreak,
		Stats:       s,
		MaxLimit:    s.cfg.MaxLeaderboardLimit,
	}
}

// Hub returns the websocket notification hub.
func (s *Service) Hub() *stream.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// Ingest returns the ingestion service.
func (s *Service) Ingest() *ingest.Service { return s.ingest }

// Resolver returns the scoring resolver.
func (s *Service) Resolver() *resolver.Resolver { return s.resolver }

// Projections returns the projection builder.
func (s *Service) Projections() *projection.Builder { return s.projections }

// Corrections returns the correction pipeline.
func (s *Service) Corrections() *correction.Pipeline { return s.corrections }

// TieBreak returns the tie-break resolver.
func (s *Service) TieBreak() *tiebreak.Resolver { return s.tiebreak }

// Audit returns the audit log.
func (s *Service) Audit() audit.Log { return s.auditLog }

// Queue returns the provider queue.
func (s *Service) Queue() queue.Queue { return s.queue }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":       s.started,
		"ledgerBackend": s.cfg.LedgerBackend,
		"queueBackend":  s.cfg.QueueBackend,
		"workerCount":   s.cfg.WorkerCount,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	if matches, err := s.store.Matches(ctx); err == nil {
		stats["matches"] = len(matches)
	}
	queues := make(map[string]int)
	for _, p := range s.queue.Providers(ctx) {
		queues[p] = s.queue.Len(ctx, p)
	}
	stats["queues"] = queues
	stats["breakers"] = s.consumers.BreakerStates()
	stats["dedupeSize"] = s.deduper.Size()
	stats["streamClients"] = s.hub.Clients()
	stats["seasons"] = len(s.standings.Seasons(ctx))
	if pending, err := s.ingest.Quarantined(ctx, ingest.QuarantinePending); err == nil {
		stats["quarantinePending"] = len(pending)
	}
	return stats
}
