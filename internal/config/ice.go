package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "BABYCAM_ICE_SERVERS_JSON"

	envStunURLs       = "BABYCAM_STUN_URLS"
	envTurnURLs       = "BABYCAM_TURN_URLS"
	envTurnUsername   = "BABYCAM_TURN_USERNAME"
	envTurnCredential = "BABYCAM_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers the JSON form; the STUN/TURN convenience
// values are only consulted when it is empty. With turnREST set, TURN entries
// may leave out credentials because they are issued per request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, turnREST)
}

// iceServerJSON mirrors the browser RTCIceServer dictionary, where urls may
// be a single string or a list.
type iceServerJSON struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

func (s iceServerJSON) urls() ([]string, error) {
	if len(s.URLs) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(s.URLs, &single); err == nil {
		return splitCommaSeparated(single), nil
	}
	var many []string
	if err := json.Unmarshal(s.URLs, &many); err != nil {
		return nil, errors.New("urls must be a string or a list of strings")
	}
	out := make([]string, 0, len(many))
	for _, u := range many {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

// ParseICEServersJSON parses and validates BABYCAM_ICE_SERVERS_JSON.
func ParseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls, err := server.urls()
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		ice := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			ice.Credential = server.Credential
		}
		if err := validateICEServer(ice, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, ice)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN entry and one TURN
// entry from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stun := splitCommaSeparated(stunURLs); len(stun) > 0 {
		server := webrtc.ICEServer{URLs: stun}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turn := splitCommaSeparated(turnURLs); len(turn) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if !turnREST && (turnUsername == "" || turnCredential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: turn, Username: turnUsername}
		if turnCredential != "" {
			server.Credential = turnCredential
		}
		if err := validateICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsTURN reports whether any of server's URLs is a turn: or turns: URL.
func IsTURN(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		scheme, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(url)), ":")
		if scheme == "turn" || scheme == "turns" {
			return true
		}
	}
	return false
}

func validateICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCredentials := false
	for _, url := range server.URLs {
		scheme, _, _ := strings.Cut(strings.ToLower(url), ":")
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCredentials = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	if !needsCredentials || turnREST {
		return nil
	}

	if strings.TrimSpace(server.Username) == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}
