package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"relay-service/internal/backend"
	"relay-service/internal/bus"
	"relay-service/internal/observability"
)

// Monitor probes backend reachability and publishes online/offline
// transitions on the bus. The offline-to-online transition is what triggers
// an outbox drain.
type Monitor struct {
	client   backend.Client
	bus      *bus.Bus
	interval time.Duration

	mu       sync.RWMutex
	online   bool
	started  bool
	override *bool // set via ops endpoint, bypasses probing
}

// NewMonitor constructs a Monitor. The service starts offline until the
// first successful probe; a queued-not-lost start is safer than assuming
// connectivity that may not exist.
func NewMonitor(client backend.Client, b *bus.Bus, interval time.Duration) *Monitor {
	return &Monitor{client: client, bus: b, interval: interval}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.override != nil {
		return *m.override
	}
	return m.online
}

// SetOverride pins the reported state; nil returns control to probing.
func (m *Monitor) SetOverride(online *bool) {
	m.mu.Lock()
	was := m.effectiveLocked()
	m.override = online
	now := m.effectiveLocked()
	m.mu.Unlock()
	m.announce(was, now)
}

func (m *Monitor) effectiveLocked() bool {
	if m.override != nil {
		return *m.override
	}
	return m.online
}

// Run probes until ctx is cancelled. One immediate probe, then on a ticker.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := m.client.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	was := m.effectiveLocked()
	m.online = err == nil
	now := m.effectiveLocked()
	first := !m.started
	m.started = true
	m.mu.Unlock()

	if first && now == was {
		// Still report the initial state once.
		observability.SetConnectivity(now)
		return
	}
	m.announce(was, now)
}

func (m *Monitor) announce(was, now bool) {
	if was == now {
		return
	}
	observability.SetConnectivity(now)
	if now {
		log.Info().Msg("backend reachable, going online")
		m.bus.Publish(bus.Event{Kind: bus.KindConnectivityOnline})
		return
	}
	log.Warn().Msg("backend unreachable, going offline")
	m.bus.Publish(bus.Event{Kind: bus.KindConnectivityOffline})
}
