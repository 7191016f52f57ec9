package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(RelayForwarded)
	m.Add(StaleEvicted, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE baby_cam_signaling_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `baby_cam_signaling_events_total{event="stale_evicted"} 2`) {
		t.Fatalf("missing stale_evicted counter: %s", body)
	}
	if !strings.Contains(body, `baby_cam_signaling_events_total{event="relay_forwarded"} 1`) {
		t.Fatalf("missing relay_forwarded counter: %s", body)
	}
	if !strings.Contains(body, `baby_cam_signaling_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
	if i, j := strings.Index(body, "relay_forwarded"), strings.Index(body, "stale_evicted"); i > j {
		t.Fatalf("counters not sorted: %s", body)
	}
	// Events that have not happened yet are still exported.
	if !strings.Contains(body, `baby_cam_signaling_events_total{event="leader_promoted"} 0`) {
		t.Fatalf("missing zero-valued leader_promoted counter: %s", body)
	}
	if strings.Contains(body, "baby_cam_leader_connected") {
		t.Fatalf("presence gauges exported without a presence func: %s", body)
	}
}

func TestPrometheusHandler_PresenceGauges(t *testing.T) {
	presence := func() (bool, int) { return true, 3 }
	rr := httptest.NewRecorder()
	PrometheusHandler(New(), presence).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE baby_cam_leader_connected gauge",
		"baby_cam_leader_connected 1\n",
		"# TYPE baby_cam_viewers_connected gauge",
		"baby_cam_viewers_connected 3\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in: %s", want, body)
		}
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(RelayForwarded)
	if got := m.Get(RelayForwarded); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("Snapshot=%v, want nil", snap)
	}
}
