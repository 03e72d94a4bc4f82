// Package core holds the capture-side business logic: turning a button
// press into an immutable attendance event and handing it to the durable
// queue. Nothing in this package performs network I/O; user-perceived
// capture latency is independent of network conditions.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"attendance.sync/internal/core/model"
)

// Capture errors are rejected synchronously; no event is created.
var (
	ErrEmployeeRequired = errors.New("capture: employee selection is required")
	ErrInvalidAction    = errors.New("capture: action must be check_in or check_out")
)

// Queue is the slice of the durable store the capture path needs.
// Implemented by *queue.Store.
type Queue interface {
	Enqueue(ctx context.Context, ev model.AttendanceEvent) error
}

// CaptureRequest is one button press from the device UI.
type CaptureRequest struct {
	EmployeeID string          `json:"employeeId"`
	ProjectID  string          `json:"projectId,omitempty"`
	Action     model.Action    `json:"action"`
	Location   *model.Location `json:"location,omitempty"`
	Remarks    string          `json:"remarks,omitempty"`
	// Photo is the optional raw attachment bytes (base64 on the wire).
	Photo []byte `json:"photo,omitempty"`
}

// CaptureService validates capture requests and appends events to the
// durable queue. Append-only: a re-capture yields a fresh id, never a
// silent merge with a past event.
type CaptureService struct {
	queue Queue
	blobs *BlobStore
}

// NewCaptureService wires the capture front against the durable queue and
// the local attachment store. blobs may be nil when attachments are
// disabled.
func NewCaptureService(q Queue, blobs *BlobStore) *CaptureService {
	return &CaptureService{queue: q, blobs: blobs}
}

// Capture builds one immutable event and persists it synchronously. A nil
// location is allowed — attendance must stay recordable in degraded GPS
// environments — and the UI shows a non-blocking indicator instead.
// A storage failure is returned to the caller immediately: losing the
// durable write is the one error that must never be silent.
func (s *CaptureService) Capture(ctx context.Context, req CaptureRequest) (model.AttendanceEvent, error) {
	if req.EmployeeID == "" {
		return model.AttendanceEvent{}, ErrEmployeeRequired
	}
	if !req.Action.Valid() {
		return model.AttendanceEvent{}, ErrInvalidAction
	}

	ev := model.AttendanceEvent{
		ID:         uuid.NewString(),
		EmployeeID: req.EmployeeID,
		ProjectID:  req.ProjectID,
		Action:     req.Action,
		CapturedAt: time.Now().UTC(),
		Location:   req.Location,
		Remarks:    req.Remarks,
		SyncState:  model.StatePending,
	}

	if len(req.Photo) > 0 && s.blobs != nil {
		ref, err := s.blobs.Put(req.Photo)
		if err != nil {
			// Sync success never depends on the attachment, so a failed
			// blob write degrades the capture instead of rejecting it.
			log.Warn().Err(err).Str("employee_id", req.EmployeeID).Msg("Failed to store photo attachment; capturing without it")
		} else {
			ev.AttachmentRef = ref
		}
	}

	if err := s.queue.Enqueue(ctx, ev); err != nil {
		return model.AttendanceEvent{}, fmt.Errorf("capture: persist event: %w", err)
	}

	log.Info().
		Str("id", ev.ID).
		Str("employee_id", ev.EmployeeID).
		Str("action", string(ev.Action)).
		Bool("has_location", ev.Location != nil).
		Msg("Attendance event captured")

	return ev, nil
}
