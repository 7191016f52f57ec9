package signaling

import "sync"

// Registry holds the current leader and viewers.
//
// The leader is never also a viewer, and every registered endpoint is in
// exactly one of the two. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	leader  *Endpoint
	viewers []*Endpoint // connection order
}

func NewRegistry() *Registry {
	return &Registry{}
}

// AssignAsLeaderIfVacant installs ep as leader when there is none and reports
// whether it did.
func (r *Registry) AssignAsLeaderIfVacant(ep *Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignAsLeaderIfVacantLocked(ep)
}

func (r *Registry) assignAsLeaderIfVacantLocked(ep *Endpoint) bool {
	if r.leader != nil {
		return r.leader == ep
	}
	r.removeViewerLocked(ep)
	r.leader = ep
	ep.role = RoleLeader
	return true
}

// AddViewer registers ep as a viewer. Adding the current leader or an
// existing viewer is a no-op.
func (r *Registry) AddViewer(ep *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addViewerLocked(ep)
}

func (r *Registry) addViewerLocked(ep *Endpoint) {
	if r.leader == ep || r.viewerIndexLocked(ep) >= 0 {
		return
	}
	r.viewers = append(r.viewers, ep)
	ep.role = RoleViewer
}

// Admit assigns ep its role on connect: leader if the slot is vacant,
// viewer otherwise. The check and the insert happen under one lock.
func (r *Registry) Admit(ep *Endpoint) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assignAsLeaderIfVacantLocked(ep) {
		return RoleLeader
	}
	r.addViewerLocked(ep)
	return RoleViewer
}

// Remove unregisters ep and returns the role it held (RoleUnassigned if it
// was not registered). When ep was the leader, one viewer is promoted and
// returned; viewers with an open transport are preferred, earliest first.
func (r *Registry) Remove(ep *Endpoint) (was Role, promoted *Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leader == ep {
		r.leader = nil
		ep.role = RoleUnassigned
		if next := r.pickSuccessorLocked(); next != nil {
			r.removeViewerLocked(next)
			r.leader = next
			next.role = RoleLeader
			promoted = next
		}
		return RoleLeader, promoted
	}
	if r.removeViewerLocked(ep) {
		ep.role = RoleUnassigned
		return RoleViewer, nil
	}
	return RoleUnassigned, nil
}

func (r *Registry) pickSuccessorLocked() *Endpoint {
	for _, v := range r.viewers {
		if v.transport == nil || v.transport.Open() {
			return v
		}
	}
	if len(r.viewers) > 0 {
		return r.viewers[0]
	}
	return nil
}

func (r *Registry) viewerIndexLocked(ep *Endpoint) int {
	for i, v := range r.viewers {
		if v == ep {
			return i
		}
	}
	return -1
}

func (r *Registry) removeViewerLocked(ep *Endpoint) bool {
	i := r.viewerIndexLocked(ep)
	if i < 0 {
		return false
	}
	copy(r.viewers[i:], r.viewers[i+1:])
	r.viewers[len(r.viewers)-1] = nil
	r.viewers = r.viewers[:len(r.viewers)-1]
	return true
}

// Leader returns the current leader, or nil.
func (r *Registry) Leader() *Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leader
}

// Viewers returns a snapshot of the current viewers.
func (r *Registry) Viewers() []*Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Endpoint, len(r.viewers))
	copy(out, r.viewers)
	return out
}

// Endpoints returns a snapshot of every registered endpoint, leader first.
func (r *Registry) Endpoints() []*Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Endpoint, 0, len(r.viewers)+1)
	if r.leader != nil {
		out = append(out, r.leader)
	}
	return append(out, r.viewers...)
}

// Role returns ep's current role.
func (r *Registry) Role(ep *Endpoint) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ep.role
}

// Clear unregisters everything without promoting anyone and returns what was
// registered.
func (r *Registry) Clear() []*Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Endpoint, 0, len(r.viewers)+1)
	if r.leader != nil {
		r.leader.role = RoleUnassigned
		out = append(out, r.leader)
	}
	for _, v := range r.viewers {
		v.role = RoleUnassigned
		out = append(out, v)
	}
	r.leader = nil
	r.viewers = nil
	return out
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Leader  bool `json:"leader"`
	Viewers int  `json:"viewers"`
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Leader: r.leader != nil, Viewers: len(r.viewers)}
}
