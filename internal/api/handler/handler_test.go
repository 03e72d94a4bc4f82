package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"attendance.sync/internal/api"
	"attendance.sync/internal/api/handler"
	"attendance.sync/internal/core"
	"attendance.sync/internal/core/model"
	"attendance.sync/internal/queue"
)

type fakeSyncer struct {
	summary model.SyncSummary
	calls   int
}

func (s *fakeSyncer) SyncNow(ctx context.Context) (model.SyncSummary, error) {
	s.calls++
	return s.summary, nil
}

type fakeSignal struct{ online bool }

func (s *fakeSignal) Online() bool { return s.online }

func setupServer(t *testing.T) (*httptest.Server, *queue.Store, *fakeSyncer) {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	syncer := &fakeSyncer{summary: model.SyncSummary{Synced: 2, Pending: 1}}
	h := &handler.AgentHandler{
		Capture: core.NewCaptureService(store, nil),
		Syncer:  syncer,
		Signal:  &fakeSignal{online: true},
		Queue:   store,
	}
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, store, syncer
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCaptureEvent_AcceptedAndQueued(t *testing.T) {
	srv, store, _ := setupServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/capture", core.CaptureRequest{
		EmployeeID: "emp-1",
		ProjectID:  "site-7",
		Action:     model.ActionCheckIn,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var body struct {
		ID         string `json:"id"`
		CapturedAt string `json:"capturedAt"`
	}
	decodeBody(t, resp, &body)
	if body.ID == "" {
		t.Error("response carries no event id")
	}
	if _, err := time.Parse(time.RFC3339Nano, body.CapturedAt); err != nil {
		t.Errorf("capturedAt %q is not RFC3339Nano: %v", body.CapturedAt, err)
	}

	pending, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestCaptureEvent_ValidationErrors(t *testing.T) {
	srv, _, _ := setupServer(t)

	cases := []struct {
		name string
		req  core.CaptureRequest
	}{
		{"missing employee", core.CaptureRequest{Action: model.ActionCheckIn}},
		{"invalid action", core.CaptureRequest{EmployeeID: "emp-1", Action: "lunch"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/capture", tc.req)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCaptureEvent_MalformedBody(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/capture", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQueueCount_SplitsPendingAndRejected(t *testing.T) {
	srv, store, _ := setupServer(t)
	ctx := context.Background()

	for range 2 {
		postJSON(t, srv.URL+"/api/v1/capture", core.CaptureRequest{
			EmployeeID: "emp-1",
			Action:     model.ActionCheckIn,
		}).Body.Close()
	}
	events, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := store.MarkRejected(ctx, events[0].ID, "unknown employee"); err != nil {
		t.Fatalf("mark rejected: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/queue/count")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var counts struct {
		Pending  int `json:"pending"`
		Rejected int `json:"rejected"`
	}
	decodeBody(t, resp, &counts)
	if counts.Pending != 1 || counts.Rejected != 1 {
		t.Errorf("counts = %+v, want pending 1 rejected 1", counts)
	}
}

func TestSyncNow_ReturnsSummary(t *testing.T) {
	srv, _, syncer := setupServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var summary model.SyncSummary
	decodeBody(t, resp, &summary)
	if summary.Synced != 2 || summary.Pending != 1 {
		t.Errorf("summary = %+v, want Synced 2 Pending 1", summary)
	}
	if syncer.calls != 1 {
		t.Errorf("SyncNow called %d times, want 1", syncer.calls)
	}
}

func TestConnectivity_ReportsSignal(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/connectivity")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		Online bool `json:"online"`
	}
	decodeBody(t, resp, &body)
	if !body.Online {
		t.Error("online = false, want true")
	}
}

func TestRejected_ListAndDiscard(t *testing.T) {
	srv, store, _ := setupServer(t)
	ctx := context.Background()

	postJSON(t, srv.URL+"/api/v1/capture", core.CaptureRequest{
		EmployeeID: "emp-9",
		Action:     model.ActionCheckOut,
	}).Body.Close()
	events, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	id := events[0].ID
	if err := store.MarkRejected(ctx, id, "unknown employee"); err != nil {
		t.Fatalf("mark rejected: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/rejected")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var listing struct {
		Events []model.AttendanceEvent `json:"events"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Events) != 1 || listing.Events[0].ID != id {
		t.Fatalf("rejected listing = %+v, want single event %s", listing.Events, id)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/rejected/"+id, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("discard status = %d, want 204", delResp.StatusCode)
	}

	rejected, err := store.CountRejected(ctx)
	if err != nil {
		t.Fatalf("count rejected: %v", err)
	}
	if rejected != 0 {
		t.Errorf("rejected count after discard = %d, want 0", rejected)
	}
}

func TestDiscardRejected_UnknownID(t *testing.T) {
	srv, _, _ := setupServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/rejected/no-such-id", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportQueue_EmptyIsNotNull(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/queue/export")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		Events []model.AttendanceEvent `json:"events"`
	}
	decodeBody(t, resp, &body)
	if body.Events == nil {
		t.Error("events = null, want empty array")
	}
}
