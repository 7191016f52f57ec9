package metrics

import "sync"

// Event names. They become the `event` label of the Prometheus counter.
const (
	ConnectionsAccepted = "connections_accepted"
	Disconnects         = "disconnects"

	RoleLeaderAssigned = "role_leader_assigned"
	RoleViewerAssigned = "role_viewer_assigned"
	LeaderPromoted     = "leader_promoted"
	LeaderVacated      = "leader_vacated"

	RelayForwarded       = "relay_forwarded"
	RelayDroppedNoLeader = "relay_dropped_no_leader"
	RelayIgnored         = "relay_ignored"
	RelaySkippedClosed   = "relay_skipped_closed"
	SendFailed           = "send_failed"
	MalformedEnvelope    = "malformed_envelope"

	PingAnswered = "ping_answered"
	StaleEvicted = "stale_evicted"

	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards everything.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
