package signaling

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport is one connected party's duplex message channel.
//
// Send must not block on the remote peer: implementations queue the frame
// (or fail) and return. Close must be idempotent and must unblock any reader
// waiting on the transport.
type Transport interface {
	Send(data []byte) error
	Close() error
	Open() bool
}

// Endpoint is a registered transport plus its role and last activity time.
type Endpoint struct {
	id        string
	transport Transport

	// role is guarded by Registry.mu.
	role Role

	lastSeen atomic.Int64 // unix nanoseconds
}

func newEndpoint(tr Transport, now time.Time) *Endpoint {
	ep := &Endpoint{
		id:        uuid.NewString(),
		transport: tr,
	}
	ep.Touch(now)
	return ep
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Transport() Transport { return e.transport }

// Touch records inbound activity at now.
func (e *Endpoint) Touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

func (e *Endpoint) LastSeen() time.Time {
	return time.Unix(0, e.lastSeen.Load())
}

func (e *Endpoint) staleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(e.LastSeen()) > threshold
}
