// Package connectivity tracks whether the reconciliation server is
// actually reachable. Platform-reported connectivity is necessary but not
// sufficient, so the monitor relies on a periodic lightweight probe
// against the server's health endpoint.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Transition is an edge-triggered online/offline change.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor owns the reachability state. It is injected into the sync agent
// and the UI layer instead of living as an ambient global, with its
// lifecycle tied to the agent process.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	online bool
	subs   []chan Transition
}

// NewMonitor creates a monitor probing probeURL every interval. The probe
// request carries its own short timeout so a hung server reads as offline
// rather than stalling the loop.
func NewMonitor(probeURL string, interval time.Duration, probeTimeout time.Duration) *Monitor {
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
	}
}

// Online returns the current reachability signal.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving every online/offline transition.
// The channel is buffered and never blocks the monitor: a slow subscriber
// misses intermediate edges but always sees the latest state eventually.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run probes until ctx is canceled. An immediate first probe gives the
// agent a usable signal at startup instead of waiting a full interval.
func (m *Monitor) Run(ctx context.Context) {
	m.ProbeNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeNow(ctx)
		}
	}
}

// ProbeNow performs one reachability probe and updates the signal.
// Any 2xx answer from the health endpoint counts as online.
func (m *Monitor) ProbeNow(ctx context.Context) bool {
	online := m.probe(ctx)
	m.set(online)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// set records the new state and fans out a transition on an edge.
func (m *Monitor) set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}
	m.online = online

	t := Transition{Online: online, At: time.Now().UTC()}
	log.Info().Bool("online", online).Msg("Connectivity transition")

	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
			// Subscriber is behind; it will catch up via Online().
		}
	}
}
