package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/todorgrigorov/baby-cam/internal/metrics"
)

// HubConfig wires the runtime dependencies of a Hub.
type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now is the clock used for activity timestamps and pong replies.
	// Defaults to time.Now.
	Now func() time.Time
}

// Hub owns the registry and applies connect, disconnect and message events
// to it.
//
// Membership changes (connect, disconnect, promotion), the role
// announcements they cause and relay deliveries are serialized by
// membershipMu. A client therefore receives its role messages in the order
// the registry assigned them, and a promoted leader hears "role: leader"
// before any offer routed to it. Sends only enqueue, so holding the lock
// across them never waits on a peer.
type Hub struct {
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	membershipMu sync.Mutex
	closed       atomic.Bool
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		registry: NewRegistry(),
		log:      logger,
		metrics:  cfg.Metrics,
		now:      now,
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Connect registers a newly opened transport, assigns its role and announces
// the role to it. It returns nil (and closes tr) once the hub is closed.
func (h *Hub) Connect(tr Transport) *Endpoint {
	if h.closed.Load() {
		_ = tr.Close()
		return nil
	}

	ep := newEndpoint(tr, h.now())

	h.membershipMu.Lock()
	if h.closed.Load() {
		h.membershipMu.Unlock()
		_ = tr.Close()
		return nil
	}
	role := h.registry.Admit(ep)
	h.announceRole(ep, role)
	h.membershipMu.Unlock()

	h.metrics.Inc(metrics.ConnectionsAccepted)
	if role == RoleLeader {
		h.metrics.Inc(metrics.RoleLeaderAssigned)
	} else {
		h.metrics.Inc(metrics.RoleViewerAssigned)
	}
	h.log.Info("endpoint connected", "endpoint_id", ep.ID(), "role", role.String())
	return ep
}

// Disconnect unregisters ep and closes its transport. When ep was the leader
// a viewer is promoted and told so. It reports whether ep was still
// registered; calling it for an endpoint that is already gone does nothing.
func (h *Hub) Disconnect(ep *Endpoint) bool {
	if ep == nil {
		return false
	}

	h.membershipMu.Lock()
	was, promoted := h.registry.Remove(ep)
	if promoted != nil {
		h.announceRole(promoted, RoleLeader)
	}
	h.membershipMu.Unlock()

	if was == RoleUnassigned {
		return false
	}
	_ = ep.transport.Close()

	h.metrics.Inc(metrics.Disconnects)
	h.log.Info("endpoint disconnected", "endpoint_id", ep.ID(), "role", was.String())

	switch {
	case promoted != nil:
		h.metrics.Inc(metrics.LeaderPromoted)
		h.log.Info("viewer promoted to leader", "endpoint_id", promoted.ID(), "previous_leader_id", ep.ID())
	case was == RoleLeader:
		h.metrics.Inc(metrics.LeaderVacated)
		h.log.Info("leader slot vacant", "previous_leader_id", ep.ID())
	}
	return true
}

// HandleMessage processes one inbound frame from ep.
func (h *Hub) HandleMessage(ep *Endpoint, data []byte) {
	ep.Touch(h.now())

	env, err := parseEnvelope(data)
	if err != nil {
		h.metrics.Inc(metrics.MalformedEnvelope)
		h.log.Warn("discarding malformed envelope", "endpoint_id", ep.ID(), "bytes", len(data), "err", err)
		return
	}

	switch env.Type {
	case MessageTypePing:
		h.answerPing(ep, env.TS)
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
		h.relay(ep, env.Type, data)
	default:
		h.metrics.Inc(metrics.RelayIgnored)
		h.log.Debug("ignoring envelope", "endpoint_id", ep.ID(), "type", string(env.Type))
	}
}

// Close unregisters and closes every endpoint without promoting anyone.
// Later Connect calls are refused.
func (h *Hub) Close() {
	h.closed.Store(true)

	h.membershipMu.Lock()
	endpoints := h.registry.Clear()
	h.membershipMu.Unlock()

	for _, ep := range endpoints {
		_ = ep.transport.Close()
	}
}

func (h *Hub) announceRole(ep *Endpoint, role Role) {
	data, err := encodeRole(role)
	if err != nil {
		h.log.Error("failed to encode role announcement", "endpoint_id", ep.ID(), "err", err)
		return
	}
	if err := ep.transport.Send(data); err != nil {
		h.sendFailed(ep, MessageTypeRole, err)
	}
}

func (h *Hub) sendFailed(ep *Endpoint, t MessageType, err error) {
	h.metrics.Inc(metrics.SendFailed)
	level := slog.LevelWarn
	if errors.Is(err, ErrTransportClosed) {
		level = slog.LevelDebug
	}
	h.log.Log(context.Background(), level, "send failed", "endpoint_id", ep.ID(), "type", string(t), "err", err)
}
