package main

import (
	"log/slog"
	"os"
	"slices"

	"github.com/todorgrigorov/baby-cam/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any site can join the session)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	// A threshold below the sweep period means eviction happens a full period
	// late, which makes failover slower than configured.
	if cfg.StaleThreshold < cfg.HeartbeatPeriod {
		logger.Warn("startup warning: stale threshold is shorter than the heartbeat period",
			"warning_code", "stale_threshold_below_period",
			"heartbeat_period", cfg.HeartbeatPeriod,
			"stale_threshold", cfg.StaleThreshold,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server config rejected; GET /webrtc/ice will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}

	if cfg.TURNREST.Enabled() && !slices.ContainsFunc(cfg.ICEServers, config.IsTURN) {
		logger.Warn("startup warning: TURN REST secret set but no turn: URLs configured; no credentials will be issued",
			"warning_code", "turn_rest_without_turn_urls",
		)
	}

	if info, err := os.Stat(cfg.PublicDir); err != nil || !info.IsDir() {
		logger.Warn("startup warning: static directory not found; the camera page will not be served",
			"warning_code", "public_dir_missing",
			"public_dir", cfg.PublicDir,
		)
	}
}
