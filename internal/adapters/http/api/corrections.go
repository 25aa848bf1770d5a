package api

import (
	"net/http"

	"github.com/okian/matchday/internal/domain/correction"
)

// CorrectionsHandler exposes the correction approval pipeline.
type CorrectionsHandler struct {
	pipeline CorrectionService
}

// NewCorrectionsHandler creates a new corrections handler.
func NewCorrectionsHandler(p CorrectionService) *CorrectionsHandler {
	return &CorrectionsHandler{pipeline: p}
}

// HandleSubmit handles POST /corrections.
func (h *CorrectionsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req correction.Request
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	c, err := h.pipeline.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleGet handles GET /corrections/{id}.
func (h *CorrectionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	c, err := h.pipeline.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleApprove handles POST /corrections/{id}/approve. The final approval
// applies the correction.
func (h *CorrectionsHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	c, err := h.pipeline.Approve(r.Context(), r.PathValue("id"), req.Actor, req.Role)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleReject handles POST /corrections/{id}/reject.
func (h *CorrectionsHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	c, err := h.pipeline.Reject(r.Context(), r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleRollback handles POST /corrections/{id}/rollback. The rollback is a
// new correction that goes through approval like any other.
func (h *CorrectionsHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	c, err := h.pipeline.Rollback(r.Context(), r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}
