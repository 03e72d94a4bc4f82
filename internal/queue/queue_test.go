package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"attendance.sync/internal/core/model"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func testEvent(id, employeeID string, capturedAt time.Time) model.AttendanceEvent {
	return model.AttendanceEvent{
		ID:         id,
		EmployeeID: employeeID,
		Action:     model.ActionCheckIn,
		CapturedAt: capturedAt,
		SyncState:  model.StatePending,
	}
}

func TestEnqueue_SurvivesReopen(t *testing.T) {
	store, path := setupStore(t)
	ctx := context.Background()

	ev := testEvent("e1", "emp-1", time.Now().UTC())
	ev.Location = &model.Location{Latitude: 44.43, Longitude: 26.1, AccuracyMeters: 12}
	ev.Remarks = "gate 4"

	if err := store.Enqueue(ctx, ev); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Simulate a process restart: drop the handle, reopen the same file.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.ListPending(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after reopen, got %d", len(events))
	}

	got := events[0]
	if got.ID != "e1" || got.EmployeeID != "emp-1" {
		t.Errorf("Unexpected event after reopen: %+v", got)
	}
	if got.Location == nil || got.Location.Latitude != 44.43 {
		t.Errorf("Location not preserved: %+v", got.Location)
	}
	if got.Remarks != "gate 4" {
		t.Errorf("Expected remarks 'gate 4', got %q", got.Remarks)
	}
	if !got.CapturedAt.Equal(ev.CapturedAt) {
		t.Errorf("CapturedAt changed across reopen: %v != %v", got.CapturedAt, ev.CapturedAt)
	}
}

func TestEnqueue_DuplicateID(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ev := testEvent("e1", "emp-1", time.Now().UTC())
	if err := store.Enqueue(ctx, ev); err != nil {
		t.Fatalf("First Enqueue failed: %v", err)
	}

	err := store.Enqueue(ctx, ev)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Expected ErrDuplicateID, got %v", err)
	}
}

func TestListPending_FIFOOrder(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	// Enqueue out of capture order on purpose.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"e3", 2 * time.Minute},
		{"e1", 0},
		{"e2", time.Minute},
	} {
		if err := store.Enqueue(ctx, testEvent(tc.id, "emp-1", base.Add(tc.offset))); err != nil {
			t.Fatalf("Enqueue %s failed: %v", tc.id, err)
		}
	}

	events, err := store.ListPending(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"e1", "e2", "e3"} {
		if events[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, events[i].ID)
		}
	}
}

func TestListPending_SkipsFutureRetryAndRejected(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"due", "later", "bad"} {
		if err := store.Enqueue(ctx, testEvent(id, "emp-1", now)); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	if err := store.MarkFailed(ctx, "due", now.Add(-time.Second), "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "later", now.Add(time.Hour), "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := store.MarkRejected(ctx, "bad", "unknown employee"); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	events, err := store.ListPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "due" {
		t.Fatalf("Expected only 'due', got %+v", events)
	}
	if events[0].SyncState != model.StateFailed {
		t.Errorf("Expected failed state, got %s", events[0].SyncState)
	}
	if events[0].AttemptCount != 1 {
		t.Errorf("Expected attempt count 1, got %d", events[0].AttemptCount)
	}
}

func TestMarkInFlight_ClaimIsExclusive(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("e1", "emp-1", time.Now().UTC())); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := store.MarkInFlight(ctx, []string{"e1"})
	if err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "e1" {
		t.Fatalf("Expected to claim e1, got %v", claimed)
	}

	// A second claim (another agent) must come back empty.
	claimed, err = store.MarkInFlight(ctx, []string{"e1"})
	if err != nil {
		t.Fatalf("Second MarkInFlight failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("Expected no double claim, got %v", claimed)
	}

	// And an in_flight event is invisible to ListPending.
	events, err := store.ListPending(ctx, time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("in_flight event leaked into ListPending: %+v", events)
	}
}

func TestMarkSynced_DeletesEvent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("e1", "emp-1", time.Now().UTC())); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkSynced(ctx, []string{"e1"}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Expected empty queue after ack, count = %d", n)
	}

	all, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("Synced event retained: %+v", all)
	}
}

func TestRecoverInFlight(t *testing.T) {
	store, path := setupStore(t)
	ctx := context.Background()

	if err := store.Enqueue(ctx, testEvent("e2", "emp-1", time.Now().UTC())); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.MarkInFlight(ctx, []string{"e2"}); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	// Host process dies before a response arrives.
	store.Close()
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	all, err := reopened.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(all) != 1 || all[0].SyncState != model.StateInFlight {
		t.Fatalf("Expected e2 still in_flight after restart, got %+v", all)
	}

	n, err := reopened.RecoverInFlight(ctx)
	if err != nil {
		t.Fatalf("RecoverInFlight failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 recovered event, got %d", n)
	}

	events, err := reopened.ListPending(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 1 || events[0].SyncState != model.StatePending {
		t.Fatalf("Expected e2 reverted to pending, got %+v", events)
	}
}

func TestRelease_RevertsOnlyInFlight(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Enqueue(ctx, testEvent("e1", "emp-1", now)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.Enqueue(ctx, testEvent("e2", "emp-1", now)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.MarkInFlight(ctx, []string{"e1"}); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkRejected(ctx, "e2", "bad"); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	if err := store.Release(ctx, []string{"e1", "e2"}); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	all, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	states := map[string]model.SyncState{}
	for _, ev := range all {
		states[ev.ID] = ev.SyncState
	}
	if states["e1"] != model.StatePending {
		t.Errorf("Expected e1 pending after release, got %s", states["e1"])
	}
	if states["e2"] != model.StateRejected {
		t.Errorf("Release must not touch rejected events, got %s", states["e2"])
	}
}

func TestCounts_SeparateRejected(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"p1", "p2", "r1"} {
		if err := store.Enqueue(ctx, testEvent(id, "emp-1", now)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := store.MarkRejected(ctx, "r1", "unknown employee"); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	pending, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("Expected pending count 2, got %d", pending)
	}

	rejected, err := store.CountRejected(ctx)
	if err != nil {
		t.Fatalf("CountRejected failed: %v", err)
	}
	if rejected != 1 {
		t.Errorf("Expected rejected count 1, got %d", rejected)
	}

	listed, err := store.ListRejected(ctx)
	if err != nil {
		t.Fatalf("ListRejected failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "r1" || listed[0].LastError != "unknown employee" {
		t.Fatalf("Unexpected rejected list: %+v", listed)
	}
}

func TestDiscard_RejectedOnly(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Enqueue(ctx, testEvent("p1", "emp-1", now)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.Enqueue(ctx, testEvent("r1", "emp-1", now)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkRejected(ctx, "r1", "unknown employee"); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	// An unacknowledged event must survive an operator discard attempt.
	if err := store.Discard(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound discarding a pending event, got %v", err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Pending event deleted without server ack, count = %d", n)
	}

	if err := store.Discard(ctx, "r1"); err != nil {
		t.Fatalf("Discard of rejected event failed: %v", err)
	}
	if err := store.Discard(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on second discard, got %v", err)
	}
}

// Sub-second timestamps must order chronologically. A textual encoding
// that trims trailing fractional zeros would sort ".5Z" after ".51Z" and
// break FIFO delivery.
func TestListPending_SubSecondFIFOOrder(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	first := base.Add(500 * time.Millisecond)  // renders as .5
	second := base.Add(510 * time.Millisecond) // renders as .51

	if err := store.Enqueue(ctx, testEvent("first", "emp-1", first)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.Enqueue(ctx, testEvent("second", "emp-1", second)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	events, err := store.ListPending(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].ID != "first" || events[1].ID != "second" {
		t.Fatalf("FIFO violated on sub-second capture times: got order [%s, %s]",
			events[0].ID, events[1].ID)
	}
}

// The due-time comparison must also be chronological at sub-second
// precision: a whole-second retry time is due when now is a few hundred
// milliseconds past it.
func TestListPending_SubSecondRetryDue(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	retryAt := time.Date(2026, 8, 26, 12, 0, 1, 0, time.UTC)
	now := retryAt.Add(510 * time.Millisecond)

	if err := store.Enqueue(ctx, testEvent("e1", "emp-1", retryAt.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkFailed(ctx, "e1", retryAt, "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	events, err := store.ListPending(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Fatalf("Elapsed retry time not picked up, got %+v", events)
	}
	if !events[0].NextRetryAt.Equal(retryAt) {
		t.Errorf("NextRetryAt changed across storage: %v != %v", events[0].NextRetryAt, retryAt)
	}
}
