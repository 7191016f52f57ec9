package signaling

import "fmt"

// Role is the part an endpoint plays in the session.
type Role uint8

const (
	RoleUnassigned Role = iota
	RoleLeader
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleViewer:
		return "viewer"
	default:
		return "unassigned"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleLeader, RoleViewer:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("signaling: role %d has no wire form", r)
	}
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "leader":
		*r = RoleLeader
	case "viewer":
		*r = RoleViewer
	default:
		return fmt.Errorf("signaling: unknown role %q", b)
	}
	return nil
}
