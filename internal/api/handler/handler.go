package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"attendance.sync/internal/core"
	"attendance.sync/internal/core/model"
	"attendance.sync/internal/queue"
)

// SyncTrigger is the manual "sync now" entry into the sync agent.
type SyncTrigger interface {
	SyncNow(ctx context.Context) (model.SyncSummary, error)
}

// OnlineSignal exposes the current connectivity state to the UI.
type OnlineSignal interface {
	Online() bool
}

// QueueReader is the read/maintenance slice of the durable store backing
// the badge counts and the rejected-events screen.
type QueueReader interface {
	Count(ctx context.Context) (int, error)
	CountRejected(ctx context.Context) (int, error)
	ListRejected(ctx context.Context) ([]model.AttendanceEvent, error)
	Discard(ctx context.Context, id string) error
	ExportAll(ctx context.Context) ([]model.AttendanceEvent, error)
}

// AgentHandler serves the device UI. Every response here is computed from
// local state only — no handler waits on the network.
type AgentHandler struct {
	Capture *core.CaptureService
	Syncer  SyncTrigger
	Signal  OnlineSignal
	Queue   QueueReader
}

// CaptureEvent records one attendance event. It answers as soon as the
// durable local write finished; server sync happens later in the
// background.
func (h *AgentHandler) CaptureEvent(w http.ResponseWriter, r *http.Request) {
	var req core.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ev, err := h.Capture.Capture(r.Context(), req)
	switch {
	case errors.Is(err, core.ErrEmployeeRequired), errors.Is(err, core.ErrInvalidAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		// Durable write failed; the operator must see this immediately.
		log.Ctx(r.Context()).Error().Err(err).Msg("Capture failed to persist")
		http.Error(w, "Failed to record event on device", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         ev.ID,
		"capturedAt": ev.CapturedAt.Format(time.RFC3339Nano),
		"message":    "Recorded on device; will sync in background.",
	})
}

// QueueCount backs the "N pending" badge; no network call involved.
func (h *AgentHandler) QueueCount(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Queue.Count(r.Context())
	if err != nil {
		http.Error(w, "Failed to read queue", http.StatusInternalServerError)
		return
	}
	rejected, err := h.Queue.CountRejected(r.Context())
	if err != nil {
		http.Error(w, "Failed to read queue", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": pending, "rejected": rejected})
}

// SyncNow runs one sync cycle immediately and returns its summary.
func (h *AgentHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Syncer.SyncNow(r.Context())
	if err != nil {
		http.Error(w, "Sync cycle failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Connectivity reports the current reachability signal.
func (h *AgentHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.Signal.Online()})
}

// ListRejected returns the events the server permanently refused, for the
// operator's correction screen.
func (h *AgentHandler) ListRejected(w http.ResponseWriter, r *http.Request) {
	events, err := h.Queue.ListRejected(r.Context())
	if err != nil {
		http.Error(w, "Failed to read queue", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// DiscardRejected lets the operator drop a rejected event after handling
// it out of band.
func (h *AgentHandler) DiscardRejected(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.Queue.Discard(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		http.Error(w, "Unknown event id", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Failed to discard event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportQueue dumps the full queue for diagnostics.
func (h *AgentHandler) ExportQueue(w http.ResponseWriter, r *http.Request) {
	events, err := h.Queue.ExportAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to export queue", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
