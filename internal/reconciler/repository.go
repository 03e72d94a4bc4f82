// Package reconciler implements the server endpoint that accepts
// attendance events from devices. Acceptance is idempotent per event id:
// replays from retried submissions are confirmed as duplicates instead of
// producing a second business effect.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"attendance.sync/internal/core/model"
)

// Repository is the persistence contract the handler consumes.
type Repository interface {
	// InsertEvent stores a submitted event. It returns false when the id
	// was already stored, which the handler reports as a duplicate ack.
	InsertEvent(ctx context.Context, sub model.Submission, receivedAt time.Time) (bool, error)
	// EmployeeExists checks the submission against the employee registry.
	EmployeeExists(ctx context.Context, employeeID string) (bool, error)
	// NotificationPending reports whether the event still needs its
	// downstream notification sent.
	NotificationPending(ctx context.Context, eventID string) (bool, error)
	// MarkNotified records that the notification went out; false means
	// some other worker got there first.
	MarkNotified(ctx context.Context, eventID string) (bool, error)
}

// AttendanceRepository is the concrete implementation for PostgreSQL.
type AttendanceRepository struct {
	DB *sql.DB
}

// NewAttendanceRepository creates a new instance.
func NewAttendanceRepository(db *sql.DB) *AttendanceRepository {
	return &AttendanceRepository{DB: db}
}

// InsertEvent stores the event, relying on the primary key for dedup:
// ON CONFLICT DO NOTHING plus the affected-row count distinguishes a first
// acceptance from a replay without a separate lookup.
func (r *AttendanceRepository) InsertEvent(ctx context.Context, sub model.Submission, receivedAt time.Time) (bool, error) {
	var lat, lon, acc any
	if sub.Location != nil {
		lat, lon, acc = sub.Location.Latitude, sub.Location.Longitude, sub.Location.AccuracyMeters
	}

	query := `INSERT INTO attendance_events
	              (id, employee_id, project_id, action, captured_at,
	               latitude, longitude, accuracy_m, remarks, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (id) DO NOTHING`

	res, err := r.DB.ExecContext(ctx, query,
		sub.ID, sub.EmployeeID, sub.ProjectID, string(sub.Action),
		sub.CapturedAt.UTC(), lat, lon, acc, sub.Remarks, receivedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("reconciler: insert event %s: %w", sub.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reconciler: insert event %s: %w", sub.ID, err)
	}
	return n == 1, nil
}

// EmployeeExists checks the employee registry.
func (r *AttendanceRepository) EmployeeExists(ctx context.Context, employeeID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1)`

	if err := r.DB.QueryRowContext(ctx, query, employeeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("reconciler: check employee %s: %w", employeeID, err)
	}
	return exists, nil
}

// NotificationPending reports whether the notification flag is still
// unset for the event.
func (r *AttendanceRepository) NotificationPending(ctx context.Context, eventID string) (bool, error) {
	var pending bool
	query := `SELECT notified_at IS NULL FROM attendance_events WHERE id = $1`

	if err := r.DB.QueryRowContext(ctx, query, eventID).Scan(&pending); err != nil {
		return false, fmt.Errorf("reconciler: notification pending %s: %w", eventID, err)
	}
	return pending, nil
}

// MarkNotified sets the notification flag; the affected-row count makes
// the mark a one-shot so duplicate deliveries are visible to the caller.
func (r *AttendanceRepository) MarkNotified(ctx context.Context, eventID string) (bool, error) {
	query := `UPDATE attendance_events SET notified_at = NOW()
	          WHERE id = $1 AND notified_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, eventID)
	if err != nil {
		return false, fmt.Errorf("reconciler: mark notified %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reconciler: mark notified %s: %w", eventID, err)
	}
	return n == 1, nil
}
