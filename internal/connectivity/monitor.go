// Package connectivity tracks whether the remote store is reachable and
// fires reconciliation on the offline-to-online transition.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"saldo/internal/remote"
)

// Prober answers whether the remote store is reachable right now.
type Prober interface {
	Ping(ctx context.Context) error
}

// PendingCounter exposes how many local records still await a push.
type PendingCounter interface {
	PendingCounts(ctx context.Context, ownerID string) (map[remote.Kind]int, error)
}

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval is how often the remote store is probed (default: 30s).
	ProbeInterval time.Duration

	// OnOnline is invoked on every offline-to-online transition, and once
	// at startup if the first probe succeeds.
	OnOnline func(ctx context.Context)
}

func DefaultConfig() Config {
	return Config{ProbeInterval: 30 * time.Second}
}

// Status is a point-in-time snapshot for callers and the status API.
type Status struct {
	Online       bool                `json:"online"`
	Pending      map[remote.Kind]int `json:"pending"`
	PendingTotal int                 `json:"pending_total"`
}

type Monitor struct {
	prober Prober
	counts PendingCounter
	owner  string
	config Config

	online atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewMonitor(prober Prober, counts PendingCounter, ownerID string, config Config) *Monitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultConfig().ProbeInterval
	}
	return &Monitor{
		prober: prober,
		counts: counts,
		owner:  ownerID,
		config: config,
	}
}

// Start begins the probe loop. Returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.runLoop(ctx)

	slog.InfoContext(ctx, "Connectivity monitor started",
		"probe_interval", m.config.ProbeInterval)
	return nil
}

// Stop gracefully stops the monitor and waits for the loop to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)

	select {
	case <-m.doneCh:
		slog.InfoContext(ctx, "Connectivity monitor stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Connectivity monitor stop timed out")
		return ctx.Err()
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probe runs one probe immediately and handles the transition, outside the
// ticker cadence. Useful at startup and in tests.
func (m *Monitor) Probe(ctx context.Context) bool {
	err := m.prober.Ping(ctx)
	nowOnline := err == nil
	wasOnline := m.online.Swap(nowOnline)

	switch {
	case nowOnline && !wasOnline:
		slog.InfoContext(ctx, "Remote store reachable, going online")
		if m.config.OnOnline != nil {
			m.config.OnOnline(ctx)
		}
	case !nowOnline && wasOnline:
		slog.WarnContext(ctx, "Remote store unreachable, going offline", "error", err)
	}
	return nowOnline
}

// Status reports connectivity plus per-collection pending counts.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	pending, err := m.counts.PendingCounts(ctx, m.owner)
	if err != nil {
		return Status{}, fmt.Errorf("count pending records: %w", err)
	}
	total := 0
	for _, n := range pending {
		total += n
	}
	return Status{
		Online:       m.Online(),
		Pending:      pending,
		PendingTotal: total,
	}, nil
}

func (m *Monitor) runLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.Probe(ctx)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
