package api

import (
	"errors"
	"net/http"

	"github.com/okian/matchday/internal/domain/ingest"
	"github.com/okian/matchday/internal/domain/model"
)

// EventsHandler handles event intake.
type EventsHandler struct {
	ingest Ingestor
	queue  Enqueuer
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(ing Ingestor, q Enqueuer) *EventsHandler {
	return &EventsHandler{ingest: ing, queue: q}
}

type quarantinedResponse struct {
	Quarantined  bool   `json:"quarantined"`
	Reason       string `json:"reason"`
	QuarantineID string `json:"quarantine_id,omitempty"`
}

type enqueuedResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// HandlePostEvent handles POST /events: synchronous ingestion.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	var ev model.CanonicalEvent
	if err := decode(r, &ev); err != nil {
		writeFailure(w, err)
		return
	}
	rec, err := h.ingest.Submit(r.Context(), ev)
	var qe *model.QuarantineError
	switch {
	case errors.Is(err, model.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, rec)
	case errors.As(err, &qe):
		writeJSON(w, http.StatusAccepted, quarantinedResponse{Quarantined: true, Reason: qe.Reason, QuarantineID: qe.QuarantineID})
	case err != nil:
		writeFailure(w, err)
	case rec.Status == ingest.StatusAccepted:
		writeJSON(w, http.StatusCreated, rec)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// HandleEnqueue handles POST /providers/{provider}/events: the event is
// placed on the provider queue and scored by its consumer.
func (h *EventsHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeFailure(w, ErrUnavailable)
		return
	}
	provider := r.PathValue("provider")
	var ev model.CanonicalEvent
	if err := decode(r, &ev); err != nil {
		writeFailure(w, err)
		return
	}
	if ev.ProviderID == "" {
		ev.ProviderID = provider
	}
	if ev.ProviderID != provider {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "invalid_event",
			Message: "provider_id does not match the path",
			Field:   "provider_id",
		})
		return
	}
	msg, err := h.queue.Enqueue(r.Context(), provider, ev)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueuedResponse{Status: "enqueued", Provider: provider, ID: msg.ID})
}
