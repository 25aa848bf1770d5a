package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/matchday/internal/domain/model"
)

// staleHeader marks a projection served from the last good version after a
// failed rebuild.
const staleHeader = "X-Projection-Stale"

// MatchesHandler handles match lifecycle and projection reads.
type MatchesHandler struct {
	matches     MatchService
	projections ProjectionReader
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(m MatchService, p ProjectionReader) *MatchesHandler {
	return &MatchesHandler{matches: m, projections: p}
}

type repinRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason"`
}

// HandleSchedule handles POST /matches.
func (h *MatchesHandler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var info model.MatchInfo
	if err := decode(r, &info); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.matches.Schedule(r.Context(), info); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// HandleFinish handles POST /matches/{id}/finish.
func (h *MatchesHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	h.transition(w, r, model.StateFinished, h.matches.Finish)
}

// HandleResolve handles POST /matches/{id}/resolve.
func (h *MatchesHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	h.transition(w, r, model.StateResolved, h.matches.Resolve)
}

func (h *MatchesHandler) transition(w http.ResponseWriter, r *http.Request, to model.MatchState, fn func(context.Context, string) error) {
	id := r.PathValue("id")
	if err := fn(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"match_id": id, "state": to})
}

// HandleRepin handles POST /matches/{id}/repin.
func (h *MatchesHandler) HandleRepin(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req repinRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	plan, err := h.matches.Repin(r.Context(), r.PathValue("id"), req.Version, req.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleGet handles GET /matches/{id}?as_of=N.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var asOf int64
	if s := r.URL.Query().Get("as_of"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 {
			writeFailure(w, fmt.Errorf("%w: as_of must be a positive ledger version", ErrBadRequest))
			return
		}
		asOf = n
	}
	p, err := h.projections.Match(r.Context(), r.PathValue("id"), asOf)
	var stale *model.ProjectionRebuildFailure
	if errors.As(err, &stale) && p != nil {
		w.Header().Set(staleHeader, strconv.FormatInt(stale.ServedAsOf, 10))
		writeJSON(w, http.StatusOK, p)
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
