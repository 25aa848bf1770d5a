package api

import (
	"net/http"
)

// RankHandler handles rank requests.
type RankHandler struct {
	projections ProjectionReader
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(p ProjectionReader) *RankHandler {
	return &RankHandler{projections: p}
}

// HandleGetRank handles GET /rank/{player}?season=S requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	if h.projections == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}
	entry, err := h.projections.Rank(r.Context(), season, r.PathValue("player"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
