package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/todorgrigorov/baby-cam/internal/metrics"
)

const (
	DefaultHeartbeatPeriod = 15 * time.Second
	DefaultStaleThreshold  = 3 * DefaultHeartbeatPeriod
)

// Monitor periodically evicts endpoints that have been silent for longer than
// the stale threshold.
type Monitor struct {
	hub       *Hub
	period    time.Duration
	threshold time.Duration
	log       *slog.Logger
}

// NewMonitor returns a Monitor for hub. Non-positive durations fall back to
// DefaultHeartbeatPeriod and DefaultStaleThreshold.
func NewMonitor(hub *Hub, period, threshold time.Duration) *Monitor {
	if period <= 0 {
		period = DefaultHeartbeatPeriod
	}
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	return &Monitor{
		hub:       hub,
		period:    period,
		threshold: threshold,
		log:       hub.log,
	}
}

// Run sweeps every period until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepSafely()
		}
	}
}

func (m *Monitor) sweepSafely() {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("panic in liveness sweep", "recover", rec)
		}
	}()
	m.Sweep(m.hub.now())
}

// Sweep force-closes every open endpoint whose last activity is older than
// the threshold at now, and returns how many it evicted. Eviction goes
// through the normal disconnect path, so a stale leader is replaced.
func (m *Monitor) Sweep(now time.Time) int {
	evicted := 0
	for _, ep := range m.hub.registry.Endpoints() {
		if !ep.staleAt(now, m.threshold) {
			continue
		}
		if !ep.transport.Open() {
			// Already closing; its reader will unregister it, but make sure.
			m.hub.Disconnect(ep)
			continue
		}

		role := m.hub.registry.Role(ep)
		_ = ep.transport.Close()
		// The reader may have unregistered ep between the snapshot and here.
		if !m.hub.Disconnect(ep) {
			continue
		}
		m.log.Info("evicted stale endpoint",
			"endpoint_id", ep.ID(),
			"role", role.String(),
			"idle", now.Sub(ep.LastSeen()).String(),
		)
		m.hub.metrics.Inc(metrics.StaleEvicted)
		evicted++
	}
	return evicted
}

// answerPing replies with the client's timestamp and the server clock. The
// reply is queued, never awaited.
func (h *Hub) answerPing(ep *Endpoint, ts json.RawMessage) {
	data, err := encodePong(ts, h.now())
	if err != nil {
		h.metrics.Inc(metrics.MalformedEnvelope)
		h.log.Warn("cannot echo ping timestamp", "endpoint_id", ep.ID(), "err", err)
		return
	}
	if err := ep.transport.Send(data); err != nil {
		h.sendFailed(ep, MessageTypePong, err)
		return
	}
	h.metrics.Inc(metrics.PingAnswered)
}
