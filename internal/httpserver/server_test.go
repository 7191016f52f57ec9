package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/todorgrigorov/baby-cam/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
		Mode:            config.ModeDev,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestServer(t *testing.T, cfg config.Config, presence PresenceFunc) (srv *Server, baseURL string) {
	t.Helper()

	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv = New(cfg, discardLogger(), build, presence)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return srv, "http://" + ln.Addr().String()
}

func getJSON(t *testing.T, url string, wantStatus int, out any) http.Header {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status=%d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.Header
}

func TestHealthzReadyzVersion(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), nil)

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		hdr := getJSON(t, baseURL+"/healthz", http.StatusOK, &body)
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
		if hdr.Get("X-Request-ID") == "" {
			t.Fatalf("expected X-Request-ID response header")
		}
	})

	t.Run("readyz", func(t *testing.T) {
		getJSON(t, baseURL+"/readyz", http.StatusOK, nil)
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		getJSON(t, baseURL+"/version", http.StatusOK, &got)
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestAPIStatus(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), func() Presence {
		return Presence{Leader: true, Viewers: 2}
	})

	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Leader    bool   `json:"leader"`
		Viewers   int    `json:"viewers"`
	}
	getJSON(t, baseURL+"/api/status", http.StatusOK, &body)

	if body.Status != StatusMessage {
		t.Fatalf("status=%q, want %q", body.Status, StatusMessage)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not RFC3339: %v", body.Timestamp, err)
	}
	if !body.Leader || body.Viewers != 2 {
		t.Fatalf("presence=(%v,%d), want (true,2)", body.Leader, body.Viewers)
	}
}

func TestAPIStatusWithoutPresence(t *testing.T) {
	_, baseURL := startTestServer(t, testConfig(), nil)

	var body map[string]any
	getJSON(t, baseURL+"/api/status", http.StatusOK, &body)
	if body["leader"] != false || body["viewers"] != float64(0) {
		t.Fatalf("body=%v, want empty presence", body)
	}
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	_, baseURL := startTestServer(t, cfg, nil)

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	getJSON(t, baseURL+"/webrtc/ice", http.StatusOK, &payload)
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
}

func TestICEEndpoint_OriginPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	cfg.AllowedOrigins = []string{"http://localhost:5173"}
	_, baseURL := startTestServer(t, cfg, nil)

	do := func(originHeader string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", originHeader)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := do("https://evil.example.com"); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp := do("http://localhost:5173")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestICEEndpoint_TURNRESTCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTL: time.Hour, UsernamePrefix: "babycam"}
	_, baseURL := startTestServer(t, cfg, nil)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if payload.ICEServers[0].Username != "" || payload.ICEServers[0].Credential != "" {
		t.Fatalf("stun entry should not carry credentials: %#v", payload.ICEServers[0])
	}

	turn := payload.ICEServers[1]
	if !strings.HasSuffix(turn.Username, ":babycam:req-1") {
		t.Fatalf("username=%q", turn.Username)
	}
	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte(turn.Username))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); turn.Credential != want {
		t.Fatalf("credential=%q, want %q", turn.Credential, want)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("BABYCAM_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	_, baseURL := startTestServer(t, cfg, nil)
	getJSON(t, baseURL+"/readyz", http.StatusServiceUnavailable, nil)
	getJSON(t, baseURL+"/webrtc/ice", http.StatusServiceUnavailable, nil)
}

func TestRecoverMiddleware(t *testing.T) {
	srv, baseURL := startTestServer(t, testConfig(), nil)
	srv.Mux().HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	getJSON(t, baseURL+"/boom", http.StatusInternalServerError, nil)
}

func TestStaticHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>baby cam</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	srv, baseURL := startTestServer(t, testConfig(), nil)
	srv.Mux().Handle("GET /", StaticHandler(dir, discardLogger()))

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "baby cam") {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}

	resp, err = http.Get(baseURL + "/missing.js")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}

func TestStaticHandler_MissingDir(t *testing.T) {
	h := StaticHandler(filepath.Join(t.TempDir(), "nope"), discardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
