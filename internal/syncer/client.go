package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"attendance.sync/internal/core/model"
)

// Client is the contract the sync agent needs from the reconciliation
// endpoint. A returned error means the outcome is unknown (network error,
// timeout, server 5xx) and the submission must be retried; absence of a
// response is never interpreted as delivery.
type Client interface {
	Submit(ctx context.Context, ev model.AttendanceEvent) (model.Receipt, error)
	SubmitBatch(ctx context.Context, events []model.AttendanceEvent) ([]model.Receipt, error)
}

// ErrBatchUnsupported signals that the server does not expose the batch
// route; the agent falls back to per-event submission.
var ErrBatchUnsupported = errors.New("syncer: batch submission not supported by server")

type batchRequest struct {
	Events []model.Submission `json:"events"`
}

type batchResponse struct {
	Results []model.Receipt `json:"results"`
}

// HTTPClient submits events to the reconciliation endpoint over HTTP.
// Every request carries a bounded timeout; the transport is instrumented
// with OpenTelemetry so submissions show up in traces.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a submission client for the given server base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
	}
}

// Submit sends a single event and classifies the answer.
func (c *HTTPClient) Submit(ctx context.Context, ev model.AttendanceEvent) (model.Receipt, error) {
	resp, err := c.post(ctx, c.baseURL+"/api/v1/attendance", model.NewSubmission(ev))
	if err != nil {
		return model.Receipt{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var r model.Receipt
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return model.Receipt{}, fmt.Errorf("syncer: decode receipt: %w", err)
		}
		return r, nil

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		// Throttling and timeouts are transient even though they wear a
		// 4xx status; treating them as permanent would strand valid
		// events in the operator queue.
		return model.Receipt{}, fmt.Errorf("syncer: server returned status %d", resp.StatusCode)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Permanent business-rule refusal. Pull the reason out of the
		// structured body when the server sent one.
		return rejectedReceipt(ev.ID, resp), nil

	default:
		return model.Receipt{}, fmt.Errorf("syncer: server returned status %d", resp.StatusCode)
	}
}

// SubmitBatch sends all events in one round trip. Per-event verdicts come
// back in the response body; a transport-level failure leaves every
// event's outcome unknown.
func (c *HTTPClient) SubmitBatch(ctx context.Context, events []model.AttendanceEvent) ([]model.Receipt, error) {
	subs := make([]model.Submission, 0, len(events))
	for _, ev := range events {
		subs = append(subs, model.NewSubmission(ev))
	}

	resp, err := c.post(ctx, c.baseURL+"/api/v1/attendance/batch", batchRequest{Events: subs})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body batchResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("syncer: decode batch response: %w", err)
		}
		return body.Results, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed:
		return nil, ErrBatchUnsupported

	default:
		return nil, fmt.Errorf("syncer: batch returned status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) post(ctx context.Context, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("syncer: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("syncer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("syncer: submit: %w", err)
	}
	return resp, nil
}

func rejectedReceipt(id string, resp *http.Response) model.Receipt {
	r := model.Receipt{ID: id, Status: model.ReceiptRejected}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var parsed model.Receipt
		if json.Unmarshal(raw, &parsed) == nil && parsed.Reason != "" {
			r.Reason = parsed.Reason
			return r
		}
	}
	r.Reason = fmt.Sprintf("server rejected submission with status %d", resp.StatusCode)
	return r
}
