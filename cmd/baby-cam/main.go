package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/todorgrigorov/baby-cam/internal/config"
	"github.com/todorgrigorov/baby-cam/internal/httpserver"
	"github.com/todorgrigorov/baby-cam/internal/metrics"
	"github.com/todorgrigorov/baby-cam/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting baby-cam",
		"listen_addr", cfg.ListenAddr,
		"public_dir", cfg.PublicDir,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"heartbeat_period", cfg.HeartbeatPeriod,
		"stale_threshold", cfg.StaleThreshold,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	a := newApp(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		a.hub.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so the hub
	// closes them before the server drains plain requests.
	a.hub.Close()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// app is the wired server: HTTP routes, the signaling hub and its liveness
// monitor.
type app struct {
	srv     *httpserver.Server
	hub     *signaling.Hub
	monitor *signaling.Monitor
	metrics *metrics.Metrics
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) *app {
	m := metrics.New()
	hub := signaling.NewHub(signaling.HubConfig{
		Logger:  logger.With("component", "signaling"),
		Metrics: m,
	})
	monitor := signaling.NewMonitor(hub, cfg.HeartbeatPeriod, cfg.StaleThreshold)

	srv := httpserver.New(cfg, logger, build, func() httpserver.Presence {
		st := hub.Registry().Stats()
		return httpserver.Presence{Leader: st.Leader, Viewers: st.Viewers}
	})

	ws := signaling.NewWebSocketServer(signaling.WebSocketConfig{
		Hub:                  hub,
		Logger:               logger.With("component", "signaling_ws"),
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueBytes:       cfg.SignalingSendQueueBytes,
	})

	// Browsers open the signaling socket on the page's own URL, so "/" serves
	// both the upgrade and the static page.
	srv.Mux().Handle("GET /", ws.Fallback(httpserver.StaticHandler(cfg.PublicDir, logger)))
	srv.Mux().Handle("GET /ws", ws)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, func() (bool, int) {
		st := hub.Registry().Stats()
		return st.Leader, st.Viewers
	}))

	return &app{srv: srv, hub: hub, monitor: monitor, metrics: m}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
