package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/matchday/pkg/metrics"
)

// LeaderboardHandler handles season table and player season reads.
type LeaderboardHandler struct {
	projections ProjectionReader
	maxLimit    int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(p ProjectionReader, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		projections: p,
		maxLimit:    maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?season=S&limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		writeFailure(w, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
		return
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("limit exceeds %d", h.maxLimit))
		return
	}
	start := time.Now()
	entries, err := h.projections.Season(r.Context(), season, n)
	metrics.RecordStandingsQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandlePlayerSeason handles GET /players/{id}/season?season=S.
func (h *LeaderboardHandler) HandlePlayerSeason(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}
	p, err := h.projections.PlayerSeason(r.Context(), season, r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// seasonParam reads the required season query parameter.
func seasonParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	season := r.URL.Query().Get("season")
	if season == "" {
		writeFailure(w, fmt.Errorf("%w: season is required", ErrBadRequest))
		return "", false
	}
	return season, true
}
