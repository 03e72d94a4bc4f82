package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"attendance.sync/internal/core/model"
	"attendance.sync/internal/ports/messaging"
)

// ReconcileHandler serves the submission endpoints consumed by device
// sync agents.
type ReconcileHandler struct {
	Repo     Repository
	Producer messaging.Producer
}

type batchRequest struct {
	Events []model.Submission `json:"events"`
}

type batchResponse struct {
	Results []model.Receipt `json:"results"`
}

// SubmitSingle accepts one event. Accepted and duplicate verdicts answer
// 200 with a receipt; a permanent refusal answers 422 with the reason; a
// storage failure answers 503 so the device retries.
func (h *ReconcileHandler) SubmitSingle(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, model.Receipt{
			ID: sub.ID, Status: model.ReceiptRejected, Reason: "malformed payload",
		})
		return
	}

	receipt, err := h.reconcile(r.Context(), sub)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("id", sub.ID).Msg("Reconciliation failed transiently")
		http.Error(w, "Storage unavailable, retry later", http.StatusServiceUnavailable)
		return
	}

	if receipt.Status == model.ReceiptRejected {
		writeJSON(w, http.StatusUnprocessableEntity, receipt)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// SubmitBatch accepts many events in one round trip and answers a receipt
// per event. Only a whole-request decode failure or a storage outage fails
// the batch; individual rejections travel inside the results.
func (h *ReconcileHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	results := make([]model.Receipt, 0, len(req.Events))
	for _, sub := range req.Events {
		receipt, err := h.reconcile(r.Context(), sub)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Str("id", sub.ID).Msg("Reconciliation failed transiently")
			http.Error(w, "Storage unavailable, retry later", http.StatusServiceUnavailable)
			return
		}
		results = append(results, receipt)
	}

	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// reconcile produces the per-event verdict. A nil error always carries a
// definitive receipt; an error means the outcome is unknown and the device
// must retry.
func (h *ReconcileHandler) reconcile(ctx context.Context, sub model.Submission) (model.Receipt, error) {
	if reason, ok := validate(sub); !ok {
		return model.Receipt{ID: sub.ID, Status: model.ReceiptRejected, Reason: reason}, nil
	}

	known, err := h.Repo.EmployeeExists(ctx, sub.EmployeeID)
	if err != nil {
		return model.Receipt{}, err
	}
	if !known {
		return model.Receipt{ID: sub.ID, Status: model.ReceiptRejected, Reason: "unknown employee"}, nil
	}

	inserted, err := h.Repo.InsertEvent(ctx, sub, time.Now().UTC())
	if err != nil {
		return model.Receipt{}, err
	}
	if !inserted {
		return model.Receipt{ID: sub.ID, Status: model.ReceiptDuplicate}, nil
	}

	h.publishDownstream(ctx, sub)
	return model.Receipt{ID: sub.ID, Status: model.ReceiptAccepted}, nil
}

// publishDownstream hands first-time check-outs to the notification queue.
// The ack to the device is the source of truth, so a publish failure is
// logged and absorbed rather than failing the submission.
func (h *ReconcileHandler) publishDownstream(ctx context.Context, sub model.Submission) {
	if h.Producer == nil || sub.Action != model.ActionCheckOut {
		return
	}

	ev := messaging.NotificationEvent{
		EventID:    sub.ID,
		EmployeeID: sub.EmployeeID,
		ProjectID:  sub.ProjectID,
		Action:     string(sub.Action),
		CapturedAt: sub.CapturedAt,
		OccurredAt: time.Now().UTC(),
	}
	if err := h.Producer.PublishNotification(ctx, ev); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", sub.ID).Msg("Failed to publish notification event")
	}
}

func validate(sub model.Submission) (string, bool) {
	if _, err := uuid.Parse(sub.ID); err != nil {
		return "id must be a valid UUID", false
	}
	if sub.EmployeeID == "" {
		return "employeeId is required", false
	}
	if !sub.Action.Valid() {
		return "action must be check_in or check_out", false
	}
	if sub.CapturedAt.IsZero() {
		return "capturedAt is required", false
	}
	return "", true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
