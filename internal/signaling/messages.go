package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the envelope "type" tag.
type MessageType string

const (
	MessageTypeRole      MessageType = "role"
	MessageTypeOffer     MessageType = "offer"
	MessageTypeAnswer    MessageType = "answer"
	MessageTypeCandidate MessageType = "candidate"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// envelope is the only part of an inbound frame the server decodes. Every
// other field stays in the raw frame and is forwarded as-is.
type envelope struct {
	Type MessageType     `json:"type"`
	TS   json.RawMessage `json:"ts,omitempty"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("%w: missing type", errMalformedEnvelope)
	}
	return env, nil
}

// RoleMessage announces the role assigned to the receiving endpoint.
type RoleMessage struct {
	Type MessageType `json:"type"`
	Role Role        `json:"role"`
}

// PingMessage is a client liveness probe. TS is the client's clock reading
// and is echoed back untouched.
type PingMessage struct {
	Type MessageType     `json:"type"`
	TS   json.RawMessage `json:"ts,omitempty"`
}

// PongMessage answers a PingMessage. ServerTS is in Unix milliseconds.
type PongMessage struct {
	Type     MessageType     `json:"type"`
	TS       json.RawMessage `json:"ts,omitempty"`
	ServerTS int64           `json:"serverTs"`
}

func encodeRole(role Role) ([]byte, error) {
	return json.Marshal(RoleMessage{Type: MessageTypeRole, Role: role})
}

func encodePong(ts json.RawMessage, now time.Time) ([]byte, error) {
	return json.Marshal(PongMessage{
		Type:     MessageTypePong,
		TS:       ts,
		ServerTS: now.UnixMilli(),
	})
}
