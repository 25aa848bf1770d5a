// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/matchday/internal/adapters/mq/queue"
	"github.com/okian/matchday/internal/domain/audit"
	"github.com/okian/matchday/internal/domain/correction"
	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
	"github.com/okian/matchday/internal/domain/projection"
	"github.com/okian/matchday/internal/domain/resolver"
	"github.com/okian/matchday/internal/domain/scoring"
	"github.com/okian/matchday/internal/domain/tiebreak"
)

const defaultMaxLimit = 1000

// Ingestor accepts events synchronously.
type Ingestor interface {
	Submit(ctx context.Context, ev model.CanonicalEvent) (ingest.Receipt, error)
}

// Enqueuer places events on a provider queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, provider string, ev model.CanonicalEvent) (queue.Message, error)
}

// MatchService drives the match lifecycle.
type MatchService interface {
	Schedule(ctx context.Context, info model.MatchInfo) error
	Finish(ctx context.Context, matchID string) error
	Resolve(ctx context.Context, matchID string) error
	Repin(ctx context.Context, matchID string, version int, reason string) (resolver.Plan, error)
}

// ProjectionReader serves the read models.
type ProjectionReader interface {
	Match(ctx context.Context, matchID string, asOf int64) (*projection.MatchProjection, error)
	PlayerSeason(ctx context.Context, seasonID, playerID string) (projection.PlayerSeasonProjection, error)
	Season(ctx context.Context, seasonID string, limit int) ([]projection.Standing, error)
	Rank(ctx context.Context, seasonID, playerID string) (projection.Standing, error)
}

// CorrectionService is the approval pipeline.
type CorrectionService interface {
	Submit(ctx context.Context, req correction.Request) (model.Correction, error)
	Get(ctx context.Context, id string) (model.Correction, error)
	Approve(ctx context.Context, id, actor string, role model.Role) (model.Correction, error)
	Reject(ctx context.Context, id, actor, reason string) (model.Correction, error)
	Rollback(ctx context.Context, id, requestedBy, reason string) (model.Correction, error)
}

// QuarantineService decides held events.
type QuarantineService interface {
	Quarantined(ctx context.Context, status ingest.QuarantineStatus) ([]ingest.QuarantineRecord, error)
	ApproveQuarantine(ctx context.Context, id, actor, note string) (ingest.Receipt, error)
	RejectQuarantine(ctx context.Context, id, actor, reason string) error
}

// TieBreaker orders tied entities.
type TieBreaker interface {
	Resolve(ctx context.Context, req tiebreak.Request) (tiebreak.Result, error)
}

// Dependencies required by HTTP handlers. Nil members disable their routes'
// behaviour with 501.
type Dependencies struct {
	Ingest      Ingestor
	Queue       Enqueuer
	Matches     MatchService
	Projections ProjectionReader
	Corrections CorrectionService
	Quarantine  QuarantineService
	Audit       audit.Log
	TieBreak    TieBreaker
	Stats       StatsProvider
	// MaxLimit caps leaderboard page sizes.
	MaxLimit int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	matchesHandler     *MatchesHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	correctionsHandler *CorrectionsHandler
	quarantineHandler  *QuarantineHandler
	auditHandler       *AuditHandler
	tiebreakHandler    *TieBreakHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	if deps.MaxLimit < 1 {
		deps.MaxLimit = defaultMaxLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps.Stats),
		eventsHandler:      NewEventsHandler(deps.Ingest, deps.Queue),
		matchesHandler:     NewMatchesHandler(deps.Matches, deps.Projections),
		leaderboardHandler: NewLeaderboardHandler(deps.Projections, deps.MaxLimit),
		rankHandler:        NewRankHandler(deps.Projections),
		correctionsHandler: NewCorrectionsHandler(deps.Corrections),
		quarantineHandler:  NewQuarantineHandler(deps.Quarantine),
		auditHandler:       NewAuditHandler(deps.Audit),
		tiebreakHandler:    NewTieBreakHandler(deps.TieBreak),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("POST /providers/{provider}/events", MetricsMiddleware(s.eventsHandler.HandleEnqueue, "provider_events"))

	mux.HandleFunc("POST /matches", MetricsMiddleware(s.matchesHandler.HandleSchedule, "matches"))
	mux.HandleFunc("GET /matches/{id}", MetricsMiddleware(s.matchesHandler.HandleGet, "match"))
	mux.HandleFunc("POST /matches/{id}/finish", MetricsMiddleware(s.matchesHandler.HandleFinish, "match_finish"))
	mux.HandleFunc("POST /matches/{id}/resolve", MetricsMiddleware(s.matchesHandler.HandleResolve, "match_resolve"))
	mux.HandleFunc("POST /matches/{id}/repin", MetricsMiddleware(s.matchesHandler.HandleRepin, "match_repin"))

	mux.HandleFunc("GET /players/{id}/season", MetricsMiddleware(s.leaderboardHandler.HandlePlayerSeason, "player_season"))
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{player}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))

	mux.HandleFunc("POST /corrections", MetricsMiddleware(s.correctionsHandler.HandleSubmit, "corrections"))
	mux.HandleFunc("GET /corrections/{id}", MetricsMiddleware(s.correctionsHandler.HandleGet, "correction"))
	mux.HandleFunc("POST /corrections/{id}/approve", MetricsMiddleware(s.correctionsHandler.HandleApprove, "correction_approve"))
	mux.HandleFunc("POST /corrections/{id}/reject", MetricsMiddleware(s.correctionsHandler.HandleReject, "correction_reject"))
	mux.HandleFunc("POST /corrections/{id}/rollback", MetricsMiddleware(s.correctionsHandler.HandleRollback, "correction_rollback"))

	mux.HandleFunc("GET /quarantine", MetricsMiddleware(s.quarantineHandler.HandleList, "quarantine"))
	mux.HandleFunc("POST /quarantine/{id}/approve", MetricsMiddleware(s.quarantineHandler.HandleApprove, "quarantine_approve"))
	mux.HandleFunc("POST /quarantine/{id}/reject", MetricsMiddleware(s.quarantineHandler.HandleReject, "quarantine_reject"))

	mux.HandleFunc("GET /audit", MetricsMiddleware(s.auditHandler.HandleList, "audit"))
	mux.HandleFunc("POST /tiebreak", MetricsMiddleware(s.tiebreakHandler.HandleResolve, "tiebreak"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type actionRequest struct {
	Actor  string     `json:"actor"`
	Role   model.Role `json:"role,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Note   string     `json:"note,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads a JSON body, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// writeFailure maps the error taxonomy onto status codes.
func writeFailure(w http.ResponseWriter, err error) {
	var (
		invalid  *model.InvalidEventError
		conflict *model.CorrectionConflict
		quar     *model.QuarantineError
		ruleErr  *model.RuleEvaluationError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_event", Message: err.Error(), Field: invalid.Field})
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.As(err, &quar):
		writeError(w, http.StatusConflict, "quarantined", err)
	case errors.As(err, &ruleErr):
		writeError(w, http.StatusUnprocessableEntity, "rule_evaluation", err)
	case errors.Is(err, ErrUnavailable):
		writeError(w, http.StatusNotImplemented, "not_configured", err)
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, model.ErrNotFound), errors.Is(err, audit.ErrNotFound), errors.Is(err, resolver.ErrMatchNotScheduled),
		errors.Is(err, scoring.ErrRulesetNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, correction.ErrInsufficientRole):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, resolver.ErrMatchClosed), errors.Is(err, resolver.ErrAlreadyScheduled),
		errors.Is(err, resolver.ErrInvalidTransition), errors.Is(err, resolver.ErrOpenReviews),
		errors.Is(err, resolver.ErrNotUnderReview), errors.Is(err, resolver.ErrLeaseTimeout),
		errors.Is(err, correction.ErrNotPending), errors.Is(err, correction.ErrNotApplied),
		errors.Is(err, correction.ErrDuplicateApprover), errors.Is(err, ingest.ErrQuarantineDecided):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ErrBadRequest), errors.Is(err, correction.ErrInvalidRequest),
		errors.Is(err, resolver.ErrInvalidCorrection), errors.Is(err, resolver.ErrInvalidSchedule),
		errors.Is(err, projection.ErrInvalidLimit), errors.Is(err, tiebreak.ErrInvalidRequest),
		errors.Is(err, tiebreak.ErrUnknownCriterion), errors.Is(err, tiebreak.ErrUnknownPhase):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
