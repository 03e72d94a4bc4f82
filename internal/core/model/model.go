package model

import (
	"time"
)

// Action is the kind of attendance event recorded at the device.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionCheckIn || a == ActionCheckOut
}

// SyncState defines where an event sits in the delivery lifecycle.
// Synced events are deleted from the queue rather than kept around,
// so only the states below are ever observable.
type SyncState string

const (
	// StatePending means the event is waiting for its next delivery attempt.
	StatePending SyncState = "pending"
	// StateInFlight means a sync cycle has claimed the event and a
	// submission may be on the wire right now.
	StateInFlight SyncState = "in_flight"
	// StateFailed means the last attempt hit a transient error; the event
	// will be retried once its NextRetryAt has elapsed.
	StateFailed SyncState = "failed"
	// StateRejected means the server permanently refused the event.
	// It is never retried automatically and waits for operator action.
	StateRejected SyncState = "rejected"
)

// Location is a GPS fix taken at capture time. It is optional: attendance
// must stay recordable in degraded GPS environments.
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// AttendanceEvent is the unit of work flowing from capture to the server.
// ID is generated on the device at capture time and is the deduplication
// key everywhere; CapturedAt is never mutated after creation.
type AttendanceEvent struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employeeId"`
	ProjectID     string    `json:"projectId,omitempty"`
	Action        Action    `json:"action"`
	CapturedAt    time.Time `json:"capturedAt"`
	Location      *Location `json:"location,omitempty"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`

	SyncState    SyncState `json:"syncState"`
	AttemptCount int       `json:"attemptCount"`
	NextRetryAt  time.Time `json:"nextRetryAt"`
	LastError    string    `json:"lastError,omitempty"`
}

// Submission is the wire payload sent to the reconciliation endpoint.
// It carries only the business fields; local retry bookkeeping stays on
// the device.
type Submission struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employeeId"`
	ProjectID  string    `json:"projectId,omitempty"`
	Action     Action    `json:"action"`
	CapturedAt time.Time `json:"capturedAt"`
	Location   *Location `json:"location,omitempty"`
	Remarks    string    `json:"remarks,omitempty"`
}

// NewSubmission strips an event down to its wire payload.
func NewSubmission(ev AttendanceEvent) Submission {
	return Submission{
		ID:         ev.ID,
		EmployeeID: ev.EmployeeID,
		ProjectID:  ev.ProjectID,
		Action:     ev.Action,
		CapturedAt: ev.CapturedAt,
		Location:   ev.Location,
		Remarks:    ev.Remarks,
	}
}

// ReceiptStatus is the server's per-event reconciliation verdict.
type ReceiptStatus string

const (
	// ReceiptAccepted means the event was stored for the first time.
	ReceiptAccepted ReceiptStatus = "accepted"
	// ReceiptDuplicate means the server had already stored this id;
	// a safe no-op from the device's point of view.
	ReceiptDuplicate ReceiptStatus = "duplicate"
	// ReceiptRejected means a permanent business-rule refusal.
	ReceiptRejected ReceiptStatus = "rejected"
)

// Receipt is the server's answer for one submitted event.
type Receipt struct {
	ID     string        `json:"id"`
	Status ReceiptStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Acked reports whether the receipt allows the device to delete the event.
func (r Receipt) Acked() bool {
	return r.Status == ReceiptAccepted || r.Status == ReceiptDuplicate
}

// SyncSummary is the result of one sync cycle, returned to the UI from
// the manual "sync now" trigger.
type SyncSummary struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}
