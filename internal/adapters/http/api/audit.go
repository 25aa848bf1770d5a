package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/matchday/internal/domain/audit"
)

// AuditHandler exports audit records.
type AuditHandler struct {
	log audit.Log
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(log audit.Log) *AuditHandler {
	return &AuditHandler{log: log}
}

// HandleList handles GET /audit?kind=&match=&subject=&since=&limit=.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	q := r.URL.Query()
	f := audit.Filter{
		Kind:    audit.Kind(q.Get("kind")),
		MatchID: q.Get("match"),
		Subject: q.Get("subject"),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeFailure(w, fmt.Errorf("%w: since must be RFC3339", ErrBadRequest))
			return
		}
		f.Since = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeFailure(w, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
		f.Limit = n
	}
	recs, err := h.log.List(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
