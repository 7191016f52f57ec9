package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetric  = "baby_cam_signaling_events_total"
	leaderMetric  = "baby_cam_leader_connected"
	viewersMetric = "baby_cam_viewers_connected"
)

// knownEvents are exported at zero before they first happen, so rate()
// queries see the series from startup.
var knownEvents = []string{
	ConnectionsAccepted, Disconnects,
	RoleLeaderAssigned, RoleViewerAssigned, LeaderPromoted, LeaderVacated,
	RelayForwarded, RelayDroppedNoLeader, RelayIgnored, RelaySkippedClosed,
	SendFailed, MalformedEnvelope,
	PingAnswered, StaleEvicted,
	DropReasonRateLimited,
}

// PresenceFunc reports whether a leader is registered and how many viewers
// are.
type PresenceFunc func() (leader bool, viewers int)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler serves the event counters, plus presence gauges when
// presence is non-nil, in Prometheus' text exposition format.
func PrometheusHandler(m *Metrics, presence PresenceFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		for _, name := range knownEvents {
			if _, ok := snap[name]; !ok {
				snap[name] = 0
			}
		}
		events := make([]string, 0, len(snap))
		for k := range snap {
			events = append(events, k)
		}
		sort.Strings(events)

		var b strings.Builder
		writeHeader(&b, eventsMetric, "counter", "Signaling events by kind.")
		for _, k := range events {
			fmt.Fprintf(&b, "%s{event=\"%s\"} %d\n", eventsMetric, labelEscaper.Replace(k), snap[k])
		}

		if presence != nil {
			leader, viewers := presence()
			leaderValue := 0
			if leader {
				leaderValue = 1
			}
			writeHeader(&b, leaderMetric, "gauge", "1 while a leader is registered, else 0.")
			fmt.Fprintf(&b, "%s %d\n", leaderMetric, leaderValue)
			writeHeader(&b, viewersMetric, "gauge", "Registered viewers.")
			fmt.Fprintf(&b, "%s %d\n", viewersMetric, viewers)
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, b.String())
	})
}

func writeHeader(b *strings.Builder, name, typ, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}
