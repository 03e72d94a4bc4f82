// Package queue implements the on-device durable store of unsynced
// attendance events. It is backed by a single SQLite file opened in WAL
// mode with synchronous=FULL, so an event that Enqueue reported as stored
// survives a process crash and is found again on restart.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"attendance.sync/internal/core/model"
)

// ErrDuplicateID is returned by Enqueue when an event with the same id is
// already stored. Each capture is expected to carry a fresh id, so hitting
// this means a bug upstream, never a silent merge.
var ErrDuplicateID = errors.New("queue: duplicate event id")

// ErrNotFound is returned when a state transition targets an unknown id.
var ErrNotFound = errors.New("queue: event not found")

// Timestamps are stored as integer Unix nanoseconds. A textual encoding
// like RFC3339Nano is not safe to ORDER BY: it drops trailing fractional
// zeros, so lexicographic order diverges from chronological order on
// sub-second captures.
const schema = `
CREATE TABLE IF NOT EXISTS attendance_events (
	id             TEXT PRIMARY KEY,
	employee_id    TEXT NOT NULL,
	project_id     TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	captured_at    INTEGER NOT NULL,
	latitude       REAL,
	longitude      REAL,
	accuracy_m     REAL,
	attachment_ref TEXT NOT NULL DEFAULT '',
	remarks        TEXT NOT NULL DEFAULT '',
	sync_state     TEXT NOT NULL,
	attempt_count  INTEGER NOT NULL DEFAULT 0,
	next_retry_at  INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_state_captured
	ON attendance_events (sync_state, captured_at);
`

// Store is the concrete SQLite-backed durable queue. All mutations are
// short single-writer transactions; no caller ever holds a transaction
// across a network call.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the queue file at path and ensures the schema
// exists. The connection pool is capped at one writer, which is the
// single-writer discipline the rest of the system relies on.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue durably persists a newly captured event in state pending.
// When Enqueue returns nil the event is on disk; when it returns an error
// the caller must surface it immediately, because a lost durable write
// defeats the whole subsystem.
func (s *Store) Enqueue(ctx context.Context, ev model.AttendanceEvent) error {
	lat, lon, acc := locationColumns(ev.Location)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_events
			(id, employee_id, project_id, action, captured_at,
			 latitude, longitude, accuracy_m, attachment_ref, remarks,
			 sync_state, attempt_count, next_retry_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '')
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.EmployeeID, ev.ProjectID, string(ev.Action),
		ev.CapturedAt.UTC().UnixNano(),
		lat, lon, acc, ev.AttachmentRef, ev.Remarks,
		string(model.StatePending),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// ListPending returns events due for delivery: state pending or failed
// with an elapsed next_retry_at, ordered by capture time ascending so the
// server sees each device's stream in FIFO order. Rejected events never
// show up here; they wait for operator action.
func (s *Store) ListPending(ctx context.Context, now time.Time, limit int) ([]model.AttendanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM attendance_events
		WHERE sync_state IN (?, ?)
		  AND next_retry_at <= ?
		ORDER BY captured_at ASC, id ASC
		LIMIT ?`,
		string(model.StatePending), string(model.StateFailed),
		now.UTC().UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: list pending: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MarkInFlight atomically claims the given events for one sync cycle and
// returns the ids actually claimed. An event already in_flight (claimed by
// another agent in a multi-process setup) or already resolved is skipped,
// so two agents can never double-submit the same pending event.
func (s *Store) MarkInFlight(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: begin claim: %w", err)
	}
	defer tx.Rollback()

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE attendance_events
			SET sync_state = ?
			WHERE id = ? AND sync_state IN (?, ?)`,
			string(model.StateInFlight), id,
			string(model.StatePending), string(model.StateFailed),
		)
		if err != nil {
			return nil, fmt.Errorf("queue: claim %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: commit claim: %w", err)
	}
	return claimed, nil
}

// MarkSynced deletes acknowledged events. Deletion happens here and only
// here: an event leaves the queue if and only if the server acknowledged
// its id as accepted or as a confirmed duplicate.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM attendance_events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("queue: delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkFailed records a transient delivery failure and schedules the next
// attempt. The event stays retriable indefinitely.
func (s *Store) MarkFailed(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_events
		SET sync_state = ?, attempt_count = attempt_count + 1,
		    next_retry_at = ?, last_error = ?
		WHERE id = ?`,
		string(model.StateFailed),
		nextRetryAt.UTC().UnixNano(), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("queue: mark failed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRejected records a permanent server-side refusal. The event is kept
// for operator correction and excluded from every future sync cycle.
func (s *Store) MarkRejected(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_events
		SET sync_state = ?, attempt_count = attempt_count + 1, last_error = ?
		WHERE id = ?`,
		string(model.StateRejected), reason, id,
	)
	if err != nil {
		return fmt.Errorf("queue: mark rejected %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Release reverts claimed events back to pending without touching their
// retry bookkeeping. Used when a cycle aborts after claiming but before a
// submission result is known.
func (s *Store) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin release: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_events SET sync_state = ?
			WHERE id = ? AND sync_state = ?`,
			string(model.StatePending), id, string(model.StateInFlight),
		); err != nil {
			return fmt.Errorf("queue: release %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// RecoverInFlight reverts every in_flight event to pending. It runs once
// at agent startup so an event stranded by a crash mid-cycle is picked up
// again; in_flight is never a terminal state.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE attendance_events SET sync_state = ?
		WHERE sync_state = ?`,
		string(model.StatePending), string(model.StateInFlight),
	)
	if err != nil {
		return 0, fmt.Errorf("queue: recover in-flight: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of unsynced events still waiting for delivery
// (pending, in_flight or failed). Rejected events are counted separately
// so the UI badge does not conflate "waiting for network" with "needs
// correction".
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_events
		WHERE sync_state IN (?, ?, ?)`,
		string(model.StatePending), string(model.StateInFlight),
		string(model.StateFailed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	return n, nil
}

// CountRejected returns the number of events needing operator correction.
func (s *Store) CountRejected(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_events WHERE sync_state = ?`,
		string(model.StateRejected),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: count rejected: %w", err)
	}
	return n, nil
}

// ListRejected returns permanently refused events, oldest first.
func (s *Store) ListRejected(ctx context.Context) ([]model.AttendanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM attendance_events
		WHERE sync_state = ?
		ORDER BY captured_at ASC, id ASC`,
		string(model.StateRejected),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: list rejected: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Discard removes one rejected event after the operator has handled it
// out of band. Events in any other state stay put: unsynced work leaves
// the store only on a server acknowledgment, never by operator delete.
func (s *Store) Discard(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attendance_events WHERE id = ? AND sync_state = ?`,
		id, string(model.StateRejected))
	if err != nil {
		return fmt.Errorf("queue: discard %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExportAll dumps the whole queue for diagnostics, oldest first.
func (s *Store) ExportAll(ctx context.Context) ([]model.AttendanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM attendance_events
		ORDER BY captured_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: export: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

const eventColumns = `id, employee_id, project_id, action, captured_at,
	latitude, longitude, accuracy_m, attachment_ref, remarks,
	sync_state, attempt_count, next_retry_at, last_error`

func scanEvents(rows *sql.Rows) ([]model.AttendanceEvent, error) {
	var events []model.AttendanceEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: scan: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (model.AttendanceEvent, error) {
	var (
		ev            model.AttendanceEvent
		action, state string
		capturedAt    int64
		nextRetryAt   int64
		lat, lon, acc sql.NullFloat64
	)

	err := rows.Scan(&ev.ID, &ev.EmployeeID, &ev.ProjectID, &action, &capturedAt,
		&lat, &lon, &acc, &ev.AttachmentRef, &ev.Remarks,
		&state, &ev.AttemptCount, &nextRetryAt, &ev.LastError)
	if err != nil {
		return model.AttendanceEvent{}, fmt.Errorf("queue: scan row: %w", err)
	}

	ev.Action = model.Action(action)
	ev.SyncState = model.SyncState(state)

	ev.CapturedAt = time.Unix(0, capturedAt).UTC()
	if nextRetryAt != 0 {
		ev.NextRetryAt = time.Unix(0, nextRetryAt).UTC()
	}
	if lat.Valid && lon.Valid {
		ev.Location = &model.Location{
			Latitude:       lat.Float64,
			Longitude:      lon.Float64,
			AccuracyMeters: acc.Float64,
		}
	}
	return ev, nil
}

func locationColumns(loc *model.Location) (lat, lon, acc any) {
	if loc == nil {
		return nil, nil, nil
	}
	return loc.Latitude, loc.Longitude, loc.AccuracyMeters
}
