// Package syncer drains the durable queue to the reconciliation server.
// Delivery is at-least-once on the wire; the server deduplicates by event
// id, so the business effect lands exactly once.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"attendance.sync/internal/connectivity"
	"attendance.sync/internal/core/model"
)

// Queue is the slice of the durable store the agent drives. Implemented
// by *queue.Store.
type Queue interface {
	ListPending(ctx context.Context, now time.Time, limit int) ([]model.AttendanceEvent, error)
	MarkInFlight(ctx context.Context, ids []string) ([]string, error)
	MarkSynced(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error
	MarkRejected(ctx context.Context, id string, reason string) error
	Release(ctx context.Context, ids []string) error
	RecoverInFlight(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// OnlineSignal is the part of the connectivity monitor the agent reads.
type OnlineSignal interface {
	Online() bool
	Subscribe() <-chan connectivity.Transition
}

// Config tunes one agent instance.
type Config struct {
	// Interval is the coarse periodic drain while online.
	Interval time.Duration
	// BatchSize bounds how many events one cycle claims.
	BatchSize int
	// RetryBaseDelay and RetryMaxDelay bound the per-event backoff
	// schedule after transient failures.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
}

// Agent runs sync cycles in the background, woken by connectivity
// transitions, a periodic timer and explicit manual triggers. It never
// runs on the capture path.
type Agent struct {
	queue  Queue
	client Client
	signal OnlineSignal
	cfg    Config
	cb     *gobreaker.CircuitBreaker

	// cycleMu serializes cycles within this process; the atomic claim in
	// the queue protects against agents in other processes.
	cycleMu sync.Mutex

	// batchSupported flips off once the server answers that it has no
	// batch route, switching the agent to per-event submission for good.
	batchMu        sync.Mutex
	batchSupported bool
}

// New wires an agent against the queue, the submission client and the
// connectivity signal. The circuit breaker keeps a logically dead server
// from being hammered on every trigger.
func New(q Queue, c Client, signal OnlineSignal, cfg Config) *Agent {
	cfg.applyDefaults()

	settings := gobreaker.Settings{
		Name:     "reconciliation-endpoint",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}

	return &Agent{
		queue:          q,
		client:         c,
		signal:         signal,
		cfg:            cfg,
		cb:             gobreaker.NewCircuitBreaker(settings),
		batchSupported: true,
	}
}

// Start recovers events stranded in_flight by a previous crash, then loops
// until ctx is canceled. Triggers: wentOnline transitions and the periodic
// timer (skipped while offline, so an unreachable server does not turn
// into a retry storm).
func (a *Agent) Start(ctx context.Context) {
	recovered, err := a.queue.RecoverInFlight(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to recover in-flight events")
	} else if recovered > 0 {
		log.Info().Int("count", recovered).Msg("Recovered in-flight events from previous run")
	}

	transitions := a.signal.Subscribe()
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", a.cfg.Interval).Msg("Sync agent started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sync agent shutting down")
			return
		case t := <-transitions:
			if t.Online {
				a.runCycle(ctx)
			}
		case <-ticker.C:
			if a.signal.Online() {
				a.runCycle(ctx)
			}
		}
	}
}

// SyncNow runs one cycle immediately, regardless of the cached
// connectivity signal, and reports what happened. This backs the manual
// "sync now" button.
func (a *Agent) SyncNow(ctx context.Context) (model.SyncSummary, error) {
	return a.runCycle(ctx), nil
}

// runCycle claims due events in FIFO order, submits them, and records every
// outcome. Events whose outcome stays unknown (cycle aborted mid-flight)
// are released back to pending so nothing is ever stranded.
func (a *Agent) runCycle(ctx context.Context) (summary model.SyncSummary) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	defer func() {
		if n, err := a.queue.Count(ctx); err == nil {
			summary.Pending = n
		}
	}()

	now := time.Now().UTC()
	due, err := a.queue.ListPending(ctx, now, a.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending events")
		return summary
	}
	if len(due) == 0 {
		return summary
	}

	ids := make([]string, 0, len(due))
	for _, ev := range due {
		ids = append(ids, ev.ID)
	}

	claimedIDs, err := a.queue.MarkInFlight(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim pending events")
		return summary
	}

	claimed := filterByID(due, claimedIDs)
	if len(claimed) == 0 {
		return summary
	}

	// Track which claims got a recorded outcome; anything left over is
	// reverted to pending before the cycle ends.
	unresolved := make(map[string]bool, len(claimed))
	for _, ev := range claimed {
		unresolved[ev.ID] = true
	}
	defer func() {
		var leftover []string
		for id, open := range unresolved {
			if open {
				leftover = append(leftover, id)
			}
		}
		if len(leftover) > 0 {
			if err := a.queue.Release(ctx, leftover); err != nil {
				log.Error().Err(err).Msg("Failed to release unresolved claims")
			}
		}
	}()

	log.Info().Int("count", len(claimed)).Msg("Sync cycle draining events")

	if a.batchEnabled() {
		receipts, err := a.submitBatch(ctx, claimed)
		switch {
		case errors.Is(err, ErrBatchUnsupported):
			a.disableBatch()
		case err != nil:
			// Whole batch outcome unknown: schedule a retry for every
			// claimed event and end the cycle.
			for _, ev := range claimed {
				a.recordFailure(ctx, ev, err, &summary, unresolved)
			}
			return summary
		default:
			a.recordReceipts(ctx, claimed, receipts, &summary, unresolved)
			return summary
		}
	}

	for _, ev := range claimed {
		receipt, err := a.submitOne(ctx, ev)
		if err != nil {
			a.recordFailure(ctx, ev, err, &summary, unresolved)
			continue
		}
		a.recordReceipt(ctx, ev, receipt, &summary, unresolved)
	}
	return summary
}

func (a *Agent) submitBatch(ctx context.Context, events []model.AttendanceEvent) ([]model.Receipt, error) {
	res, err := a.cb.Execute(func() (interface{}, error) {
		return a.client.SubmitBatch(ctx, events)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Warn().Msg("Circuit breaker open; skipping submission")
		}
		return nil, err
	}
	return res.([]model.Receipt), nil
}

func (a *Agent) submitOne(ctx context.Context, ev model.AttendanceEvent) (model.Receipt, error) {
	res, err := a.cb.Execute(func() (interface{}, error) {
		return a.client.Submit(ctx, ev)
	})
	if err != nil {
		return model.Receipt{}, err
	}
	return res.(model.Receipt), nil
}

func (a *Agent) recordReceipts(ctx context.Context, events []model.AttendanceEvent, receipts []model.Receipt, summary *model.SyncSummary, unresolved map[string]bool) {
	byID := make(map[string]model.AttendanceEvent, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, r := range receipts {
		ev, ok := byID[r.ID]
		if !ok {
			log.Warn().Str("id", r.ID).Msg("Server answered for an unknown event id")
			continue
		}
		a.recordReceipt(ctx, ev, r, summary, unresolved)
	}
}

func (a *Agent) recordReceipt(ctx context.Context, ev model.AttendanceEvent, r model.Receipt, summary *model.SyncSummary, unresolved map[string]bool) {
	switch {
	case r.Acked():
		if err := a.queue.MarkSynced(ctx, []string{ev.ID}); err != nil {
			log.Error().Err(err).Str("id", ev.ID).Msg("Failed to delete acknowledged event")
			return
		}
		unresolved[ev.ID] = false
		summary.Synced++
		log.Debug().Str("id", ev.ID).Str("status", string(r.Status)).Msg("Event acknowledged")

	case r.Status == model.ReceiptRejected:
		if err := a.queue.MarkRejected(ctx, ev.ID, r.Reason); err != nil {
			log.Error().Err(err).Str("id", ev.ID).Msg("Failed to record rejection")
			return
		}
		unresolved[ev.ID] = false
		summary.Failed++
		log.Warn().Str("id", ev.ID).Str("reason", r.Reason).Msg("Event permanently rejected; operator attention required")

	default:
		log.Error().Str("id", ev.ID).Str("status", string(r.Status)).Msg("Unknown receipt status")
	}
}

func (a *Agent) recordFailure(ctx context.Context, ev model.AttendanceEvent, cause error, summary *model.SyncSummary, unresolved map[string]bool) {
	delay := retryDelay(ev.AttemptCount+1, a.cfg.RetryBaseDelay, a.cfg.RetryMaxDelay)
	nextRetryAt := time.Now().UTC().Add(delay)

	if err := a.queue.MarkFailed(ctx, ev.ID, nextRetryAt, cause.Error()); err != nil {
		log.Error().Err(err).Str("id", ev.ID).Msg("Failed to record transient failure")
		return
	}
	unresolved[ev.ID] = false
	summary.Failed++
	log.Warn().Err(cause).Str("id", ev.ID).Dur("retry_in", delay).Msg("Transient submission failure, retry scheduled")
}

func (a *Agent) batchEnabled() bool {
	a.batchMu.Lock()
	defer a.batchMu.Unlock()
	return a.batchSupported
}

func (a *Agent) disableBatch() {
	a.batchMu.Lock()
	a.batchSupported = false
	a.batchMu.Unlock()
	log.Info().Msg("Server has no batch route; switching to per-event submission")
}

// retryDelay computes the backoff before attempt n (1-based): exponential
// with jitter so a fleet of devices reconnecting together does not retry
// in lockstep, clamped at maxDelay.
func retryDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = baseDelay
	eb.MaxInterval = maxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.3

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func filterByID(events []model.AttendanceEvent, ids []string) []model.AttendanceEvent {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := make([]model.AttendanceEvent, 0, len(ids))
	for _, ev := range events {
		if keep[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}
