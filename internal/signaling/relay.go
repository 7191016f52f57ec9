package signaling

import "github.com/todorgrigorov/baby-cam/internal/metrics"

type routeTarget int

const (
	routeNone routeTarget = iota
	routeLeader
	routeViewers
)

// routeFor is the relay table: viewers talk to the leader, the leader talks
// to every viewer. Any other combination goes nowhere.
func routeFor(sender Role, t MessageType) routeTarget {
	switch sender {
	case RoleViewer:
		switch t {
		case MessageTypeOffer, MessageTypeCandidate:
			return routeLeader
		}
	case RoleLeader:
		switch t {
		case MessageTypeAnswer, MessageTypeCandidate:
			return routeViewers
		}
	}
	return routeNone
}

// recipients resolves the sender's role and the matching recipients in one
// critical section.
func (r *Registry) recipients(sender *Endpoint, t MessageType) (routeTarget, []*Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := routeFor(sender.role, t)
	switch target {
	case routeLeader:
		if r.leader == nil || r.leader == sender {
			return target, nil
		}
		return target, []*Endpoint{r.leader}
	case routeViewers:
		out := make([]*Endpoint, 0, len(r.viewers))
		for _, v := range r.viewers {
			if v != sender {
				out = append(out, v)
			}
		}
		return target, out
	default:
		return routeNone, nil
	}
}

// relay forwards data, unmodified, to the recipients the table selects.
// Lookup and enqueue happen under membershipMu so a frame cannot overtake
// the role announcement of a freshly promoted leader.
func (h *Hub) relay(sender *Endpoint, t MessageType, data []byte) {
	h.membershipMu.Lock()
	defer h.membershipMu.Unlock()

	target, recipients := h.registry.recipients(sender, t)

	switch {
	case target == routeNone:
		h.metrics.Inc(metrics.RelayIgnored)
		h.log.Debug("ignoring envelope", "endpoint_id", sender.ID(), "type", string(t))
		return
	case target == routeLeader && len(recipients) == 0:
		h.metrics.Inc(metrics.RelayDroppedNoLeader)
		h.log.Debug("no leader; dropping envelope", "endpoint_id", sender.ID(), "type", string(t))
		return
	}

	for _, rcpt := range recipients {
		if !rcpt.transport.Open() {
			h.metrics.Inc(metrics.RelaySkippedClosed)
			continue
		}
		if err := rcpt.transport.Send(data); err != nil {
			h.sendFailed(rcpt, t, err)
			continue
		}
		h.metrics.Inc(metrics.RelayForwarded)
	}
}
