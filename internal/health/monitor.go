// Package health maintains per-provider health state from scheduled
// probes. Probing is fully decoupled from the request path: the router
// only ever reads snapshots, and a probe result mutates only its own
// provider's record.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// Event is emitted on every status transition so consumers never need to
// poll synchronously.
type Event struct {
	ProviderID string
	From       domain.HealthStatus
	To         domain.HealthStatus
	At         time.Time
}

// Options configures probe scheduling and status transition thresholds.
type Options struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// Window is the number of trailing probes used for the error rate.
	Window int
	// ErrorRateThreshold degrades a healthy provider when crossed.
	ErrorRateThreshold float64
	// LatencyCeiling degrades a healthy provider when the rolling
	// average exceeds it.
	LatencyCeiling time.Duration
	// OfflineAfter is the consecutive-failure count that takes a
	// provider offline.
	OfflineAfter int
	// HealthyAfter is the consecutive-success count that returns a
	// provider to healthy from any state.
	HealthyAfter int
}

// ewmaAlpha weights the newest latency sample in the rolling average.
const ewmaAlpha = 0.2

type providerState struct {
	provider domain.Provider
	record   domain.HealthRecord

	// ring of trailing probe outcomes; true = failure
	window    []bool
	windowPos int
	windowLen int

	consecFailures  int
	consecSuccesses int
}

// Monitor owns all health records. One lightweight worker per provider, so
// a slow provider's probe can never delay the others.
type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]*providerState

	events chan Event

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewMonitor creates a monitor for the given providers. Providers start
// healthy; the first probe cycle corrects that optimism if needed.
func NewMonitor(providers []domain.Provider, opts Options, logger *slog.Logger) *Monitor {
	m := &Monitor{
		opts:   opts,
		logger: logger,
		states: make(map[string]*providerState, len(providers)),
		events: make(chan Event, 64),
	}
	for _, p := range providers {
		m.states[p.ID()] = &providerState{
			provider: p,
			record: domain.HealthRecord{
				ProviderID: p.ID(),
				Status:     domain.StatusHealthy,
			},
			window: make([]bool, opts.Window),
		}
	}
	return m
}

// Events returns the status transition stream. Transitions are dropped
// rather than blocking a probe worker if the consumer falls behind.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start launches one probe worker per provider. Workers stop when ctx is
// cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.group, ctx = errgroup.WithContext(ctx)

	m.mu.RLock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		id := id
		m.group.Go(func() error {
			ticker := time.NewTicker(m.opts.ProbeInterval)
			defer ticker.Stop()

			m.RunProbe(ctx, id)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					m.RunProbe(ctx, id)
				}
			}
		})
	}
}

// Stop halts all probe workers and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
}

// RunProbe executes one probe cycle for a provider and folds the sample
// into its record. Safe to call concurrently with readers.
func (m *Monitor) RunProbe(ctx context.Context, providerID string) {
	m.mu.RLock()
	st, ok := m.states[providerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := st.provider.Probe(probeCtx)
	latency := time.Since(start)

	m.observe(providerID, latency, err)
}

// Record returns the latest aggregate for a provider. Non-blocking beyond
// the read lock.
func (m *Monitor) Record(providerID string) (domain.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[providerID]
	if !ok {
		return domain.HealthRecord{}, false
	}
	return st.record, true
}

// Snapshot returns all current records keyed by provider id.
func (m *Monitor) Snapshot() map[string]domain.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.HealthRecord, len(m.states))
	for id, st := range m.states {
		out[id] = st.record
	}
	return out
}

func (m *Monitor) observe(providerID string, latency time.Duration, probeErr error) {
	m.mu.Lock()
	st, ok := m.states[providerID]
	if !ok {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	failed := probeErr != nil

	st.window[st.windowPos] = failed
	st.windowPos = (st.windowPos + 1) % len(st.window)
	if st.windowLen < len(st.window) {
		st.windowLen++
	}

	failures := 0
	for i := 0; i < st.windowLen; i++ {
		if st.window[i] {
			failures++
		}
	}
	st.record.ErrorRate = float64(failures) / float64(st.windowLen)
	st.record.LastProbe = now

	if failed {
		st.consecFailures++
		st.consecSuccesses = 0
	} else {
		st.consecSuccesses++
		st.consecFailures = 0
		st.record.LastSuccess = now
		if st.record.AvgLatency == 0 {
			st.record.AvgLatency = latency
		} else {
			st.record.AvgLatency = time.Duration(
				ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(st.record.AvgLatency))
		}
	}

	prev := st.record.Status
	st.record.Status = m.nextStatus(st)
	next := st.record.Status
	m.mu.Unlock()

	if probeErr != nil && m.logger != nil {
		m.logger.Warn("health probe failed",
			slog.String("provider", providerID),
			slog.String("error", probeErr.Error()),
			slog.Duration("latency", latency),
		)
	}

	if prev != next {
		if m.logger != nil {
			m.logger.Info("provider status changed",
				slog.String("provider", providerID),
				slog.String("from", string(prev)),
				slog.String("to", string(next)),
			)
		}
		select {
		case m.events <- Event{ProviderID: providerID, From: prev, To: next, At: now}:
		default:
		}
	}
}

// nextStatus applies the transition rules:
// consecutive failures past the limit force offline; a run of consecutive
// successes restores healthy from any state; otherwise an elevated error
// rate or latency average degrades.
func (m *Monitor) nextStatus(st *providerState) domain.HealthStatus {
	if st.consecFailures >= m.opts.OfflineAfter {
		return domain.StatusOffline
	}
	if st.consecSuccesses >= m.opts.HealthyAfter {
		if st.record.AvgLatency > m.opts.LatencyCeiling {
			return domain.StatusDegraded
		}
		return domain.StatusHealthy
	}

	switch st.record.Status {
	case domain.StatusHealthy:
		if st.record.ErrorRate > m.opts.ErrorRateThreshold ||
			st.record.AvgLatency > m.opts.LatencyCeiling {
			return domain.StatusDegraded
		}
	case domain.StatusOffline:
		// Leaving offline requires the consecutive-success run above.
		return domain.StatusOffline
	}
	return st.record.Status
}
