package api

import (
	"net/http"
	"strings"

	"github.com/okian/matchday/internal/domain/ingest"
)

// QuarantineHandler lets operators decide held events.
type QuarantineHandler struct {
	svc QuarantineService
}

// NewQuarantineHandler creates a new quarantine handler.
func NewQuarantineHandler(svc QuarantineService) *QuarantineHandler {
	return &QuarantineHandler{svc: svc}
}

// HandleList handles GET /quarantine?status=PENDING. An empty status lists
// every record.
func (h *QuarantineHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	status := ingest.QuarantineStatus(strings.ToUpper(r.URL.Query().Get("status")))
	recs, err := h.svc.Quarantined(r.Context(), status)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if recs == nil {
		recs = []ingest.QuarantineRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleApprove handles POST /quarantine/{id}/approve.
func (h *QuarantineHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	rec, err := h.svc.ApproveQuarantine(r.Context(), r.PathValue("id"), req.Actor, req.Note)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleReject handles POST /quarantine/{id}/reject.
func (h *QuarantineHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var req actionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.RejectQuarantine(r.Context(), r.PathValue("id"), req.Actor, req.Reason); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id"), "status": string(ingest.QuarantineRejected)})
}
