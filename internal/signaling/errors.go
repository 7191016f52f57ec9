package signaling

import "errors"

var (
	// ErrTransportClosed is returned when sending on a transport that has
	// already been closed.
	ErrTransportClosed = errors.New("signaling: transport closed")
	// ErrSendQueueFull is returned when a recipient's outbound queue has no
	// room for another frame. The frame is dropped.
	ErrSendQueueFull = errors.New("signaling: send queue full")

	errMalformedEnvelope = errors.New("signaling: malformed envelope")
)
