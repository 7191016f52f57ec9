package httpserver

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/todorgrigorov/baby-cam/internal/config"
	"github.com/todorgrigorov/baby-cam/internal/turnrest"
)

// newTURNREST returns nil when TURN REST is disabled or misconfigured. Load
// already validates the settings, so a failure here only happens for
// hand-built configs.
func newTURNREST(cfg config.Config, logger *slog.Logger) *turnrest.Generator {
	if !cfg.TURNREST.Enabled() {
		return nil
	}
	gen, err := turnrest.NewGenerator(turnrest.Config{
		SharedSecret:   cfg.TURNREST.SharedSecret,
		TTL:            cfg.TURNREST.TTL,
		UsernamePrefix: cfg.TURNREST.UsernamePrefix,
	})
	if err != nil {
		logger.Error("turn rest disabled", "err", err)
		return nil
	}
	return gen
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.turn != nil {
		id := r.Header.Get("X-Request-ID")
		if strings.Contains(id, ":") {
			id = ""
		}
		creds, err := s.turn.Issue(id)
		if err != nil {
			s.log.Error("issue turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "turn credentials unavailable"})
			return
		}
		servers = withTURNCredentials(servers, creds.Username, creds.Credential)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": servers})
}

// withTURNCredentials copies servers, replacing credentials on TURN entries.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.IsTURN(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
