package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML layout accepted by --config. Keys that are absent
// leave the built-in default in place.
type fileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	PublicDir       string   `toml:"public_dir"`
	Mode            string   `toml:"mode"`
	LogFormat       string   `toml:"log_format"`
	LogLevel        string   `toml:"log_level"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`

	Liveness struct {
		HeartbeatPeriod duration `toml:"heartbeat_period"`
		StaleThreshold  duration `toml:"stale_threshold"`
	} `toml:"liveness"`

	Signaling struct {
		MaxMessageBytes      int64 `toml:"max_message_bytes"`
		MaxMessagesPerSecond int   `toml:"max_messages_per_second"`
		SendQueueBytes       int   `toml:"send_queue_bytes"`
	} `toml:"signaling"`

	ICE struct {
		ServersJSON    string   `toml:"servers_json"`
		StunURLs       []string `toml:"stun_urls"`
		TurnURLs       []string `toml:"turn_urls"`
		TurnUsername   string   `toml:"turn_username"`
		TurnCredential string   `toml:"turn_credential"`

		TurnRESTSharedSecret   string   `toml:"turn_rest_shared_secret"`
		TurnRESTTTL            duration `toml:"turn_rest_ttl"`
		TurnRESTUsernamePrefix string   `toml:"turn_rest_username_prefix"`
	} `toml:"ice"`
}

// duration decodes TOML strings like "15s".
type duration struct {
	value time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.value = v
	return nil
}

func applyFile(path string, s *settings) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config file %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		s.listenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("public_dir") {
		s.publicDir = strings.TrimSpace(raw.PublicDir)
	}
	if meta.IsDefined("mode") {
		s.mode = raw.Mode
	}
	if meta.IsDefined("log_format") {
		s.logFormat = raw.LogFormat
	}
	if meta.IsDefined("log_level") {
		s.logLevel = raw.LogLevel
	}
	if meta.IsDefined("shutdown_timeout") {
		s.shutdownTimeout = raw.ShutdownTimeout.value
	}
	if meta.IsDefined("allowed_origins") {
		s.allowedOrigins = strings.Join(raw.AllowedOrigins, ",")
	}
	if meta.IsDefined("liveness", "heartbeat_period") {
		s.heartbeatPeriod = raw.Liveness.HeartbeatPeriod.value
	}
	if meta.IsDefined("liveness", "stale_threshold") {
		s.staleThreshold = raw.Liveness.StaleThreshold.value
	}
	if meta.IsDefined("signaling", "max_message_bytes") {
		s.maxSignalingMessageBytes = raw.Signaling.MaxMessageBytes
	}
	if meta.IsDefined("signaling", "max_messages_per_second") {
		s.maxSignalingMessagesPerSecond = raw.Signaling.MaxMessagesPerSecond
	}
	if meta.IsDefined("signaling", "send_queue_bytes") {
		s.signalingSendQueueBytes = raw.Signaling.SendQueueBytes
	}
	if meta.IsDefined("ice", "servers_json") {
		s.iceServersJSON = raw.ICE.ServersJSON
	}
	if meta.IsDefined("ice", "stun_urls") {
		s.stunURLs = strings.Join(raw.ICE.StunURLs, ",")
	}
	if meta.IsDefined("ice", "turn_urls") {
		s.turnURLs = strings.Join(raw.ICE.TurnURLs, ",")
	}
	if meta.IsDefined("ice", "turn_username") {
		s.turnUsername = raw.ICE.TurnUsername
	}
	if meta.IsDefined("ice", "turn_credential") {
		s.turnCredential = raw.ICE.TurnCredential
	}
	if meta.IsDefined("ice", "turn_rest_shared_secret") {
		s.turnRESTSharedSecret = raw.ICE.TurnRESTSharedSecret
	}
	if meta.IsDefined("ice", "turn_rest_ttl") {
		s.turnRESTTTL = raw.ICE.TurnRESTTTL.value
	}
	if meta.IsDefined("ice", "turn_rest_username_prefix") {
		s.turnRESTUsernamePrefix = raw.ICE.TurnRESTUsernamePrefix
	}
	return nil
}
