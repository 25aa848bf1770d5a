package api

import (
	"net/http"

	"github.com/okian/matchday/internal/domain/tiebreak"
)

// TieBreakHandler orders tied entities.
type TieBreakHandler struct {
	resolver TieBreaker
}

// NewTieBreakHandler creates a new tie-break handler.
func NewTieBreakHandler(r TieBreaker) *TieBreakHandler {
	return &TieBreakHandler{resolver: r}
}

// HandleResolve handles POST /tiebreak.
func (h *TieBreakHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req tiebreak.Request
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
