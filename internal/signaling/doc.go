// Package signaling relays WebRTC negotiation messages between a single camera
// leader and any number of viewers.
//
// The server never looks inside offer/answer/candidate payloads; it only reads
// the envelope "type" tag to decide where a frame goes. Role bookkeeping lives
// in Registry, message routing and role announcements in Hub, and stale
// connection eviction in Monitor.
package signaling
