package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/todorgrigorov/baby-cam/internal/origin"
)

const (
	envVarConfigFile      = "BABYCAM_CONFIG"
	envVarListenAddr      = "BABYCAM_LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarPublicDir       = "BABYCAM_PUBLIC_DIR"
	envVarHeartbeatPeriod = "BABYCAM_HEARTBEAT_PERIOD"
	envVarStaleThreshold  = "BABYCAM_STALE_THRESHOLD"
	envVarMode            = "BABYCAM_MODE"
	envVarLogFormat       = "BABYCAM_LOG_FORMAT"
	envVarLogLevel        = "BABYCAM_LOG_LEVEL"
	envVarShutdownTimeout = "BABYCAM_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Signaling WebSocket hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueBytes       = "SIGNALING_SEND_QUEUE_BYTES"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "BABYCAM_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "BABYCAM_TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "BABYCAM_TURN_REST_USERNAME_PREFIX"

	DefaultListenAddr                         = ":3000"
	DefaultPublicDir                          = "public"
	DefaultHeartbeatPeriod                    = 15 * time.Second
	DefaultStaleThreshold                     = 45 * time.Second
	DefaultShutdown                           = 15 * time.Second
	DefaultMode                          Mode = ModeDev
	DefaultMaxSignalingMessageBytes           = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond      = 50
	DefaultSignalingSendQueueBytes            = 1 << 20 // 1MiB
	DefaultTURNRESTTTL                        = time.Hour
	DefaultTURNRESTUsernamePrefix             = "babycam"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TurnRESTConfig enables per-request TURN credentials signed with a secret
// shared with coturn.
type TurnRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	// ConfigFile is the TOML file the settings were layered from, if any.
	ConfigFile string

	ListenAddr      string
	PublicDir       string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// HeartbeatPeriod is how often the liveness monitor sweeps; StaleThreshold
	// is how long an endpoint may stay silent before it is evicted.
	HeartbeatPeriod time.Duration
	StaleThreshold  time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueBytes       int

	// ICEServers is handed to browsers by GET /webrtc/ice. With TURN REST
	// enabled, TURN entries get fresh credentials on every request.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports why the ICE server settings were rejected. The
// server still starts; only the ICE endpoint fails.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// settings holds the layered raw values before validation. Each layer
// (defaults, file, env, flags) overwrites what the previous one set.
type settings struct {
	listenAddr      string
	publicDir       string
	mode            string
	logFormat       string
	logLevel        string
	shutdownTimeout time.Duration
	allowedOrigins  string

	heartbeatPeriod time.Duration
	staleThreshold  time.Duration

	maxSignalingMessageBytes      int64
	maxSignalingMessagesPerSecond int
	signalingSendQueueBytes       int

	iceServersJSON string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string

	turnRESTSharedSecret   string
	turnRESTTTL            time.Duration
	turnRESTUsernamePrefix string
}

func defaultSettings() settings {
	return settings{
		listenAddr:                    DefaultListenAddr,
		publicDir:                     DefaultPublicDir,
		mode:                          string(DefaultMode),
		shutdownTimeout:               DefaultShutdown,
		heartbeatPeriod:               DefaultHeartbeatPeriod,
		staleThreshold:                DefaultStaleThreshold,
		maxSignalingMessageBytes:      DefaultMaxSignalingMessageBytes,
		maxSignalingMessagesPerSecond: DefaultMaxSignalingMessagesPerSecond,
		signalingSendQueueBytes:       DefaultSignalingSendQueueBytes,
		turnRESTTTL:                   DefaultTURNRESTTTL,
		turnRESTUsernamePrefix:        DefaultTURNRESTUsernamePrefix,
	}
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	s := defaultSettings()

	configFile := envOrDefault(lookup, envVarConfigFile, "")
	if path, ok := configPathFromArgs(args); ok {
		configFile = path
	}
	if configFile != "" {
		if err := applyFile(configFile, &s); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(lookup, &s); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("baby-cam", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&configFile, "config", configFile, "TOML config file (env "+envVarConfigFile+")")
	fs.StringVar(&s.listenAddr, "listen-addr", s.listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+" or "+envVarPort+")")
	fs.StringVar(&s.publicDir, "public-dir", s.publicDir, "Directory served as static files (env "+envVarPublicDir+")")
	fs.StringVar(&s.allowedOrigins, "allowed-origins", s.allowedOrigins, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&s.mode, "mode", s.mode, "Run mode: dev or prod")
	fs.StringVar(&s.logFormat, "log-format", s.logFormat, "Log format: text or json (default depends on mode)")
	fs.StringVar(&s.logLevel, "log-level", s.logLevel, "Log level: debug, info, warn, error (default depends on mode)")
	fs.DurationVar(&s.shutdownTimeout, "shutdown-timeout", s.shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&s.heartbeatPeriod, "heartbeat-period", s.heartbeatPeriod, "Liveness sweep period (env "+envVarHeartbeatPeriod+")")
	fs.DurationVar(&s.staleThreshold, "stale-threshold", s.staleThreshold, "Evict endpoints silent for longer than this (env "+envVarStaleThreshold+")")
	fs.Int64Var(&s.maxSignalingMessageBytes, "max-signaling-message-bytes", s.maxSignalingMessageBytes, "Max inbound signaling message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&s.maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", s.maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&s.signalingSendQueueBytes, "signaling-send-queue-bytes", s.signalingSendQueueBytes, "Max bytes queued for one slow connection (env "+envVarSignalingSendQueueBytes+")")
	fs.StringVar(&s.iceServersJSON, "ice-servers-json", s.iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&s.stunURLs, "stun-urls", s.stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&s.turnURLs, "turn-urls", s.turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&s.turnUsername, "turn-username", s.turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&s.turnCredential, "turn-credential", s.turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&s.turnRESTSharedSecret, "turn-rest-shared-secret", s.turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&s.turnRESTTTL, "turn-rest-ttl", s.turnRESTTTL, "TURN REST credential lifetime ("+envVarTURNRESTTTL+")")
	fs.StringVar(&s.turnRESTUsernamePrefix, "turn-rest-username-prefix", s.turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return s.build(configFile)
}

func (s settings) build(configFile string) (Config, error) {
	mode, err := parseMode(s.mode)
	if err != nil {
		return Config{}, err
	}
	if s.logFormat == "" {
		s.logFormat = defaultLogFormatForMode(mode)
	}
	if s.logLevel == "" {
		s.logLevel = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(s.logFormat)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(s.logLevel)
	if err != nil {
		return Config{}, err
	}

	listenAddr := strings.TrimSpace(s.listenAddr)
	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid listen address %q: %w", s.listenAddr, err)
	}

	if s.heartbeatPeriod <= 0 {
		return Config{}, fmt.Errorf("%s/--heartbeat-period must be > 0", envVarHeartbeatPeriod)
	}
	if s.staleThreshold <= 0 {
		return Config{}, fmt.Errorf("%s/--stale-threshold must be > 0", envVarStaleThreshold)
	}
	if s.shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if s.maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if s.maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if s.signalingSendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-bytes must be > 0", envVarSignalingSendQueueBytes)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   s.turnRESTSharedSecret,
		TTL:            s.turnRESTTTL,
		UsernamePrefix: strings.TrimSpace(s.turnRESTUsernamePrefix),
	}
	if turnREST.Enabled() {
		if turnREST.TTL < time.Second {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl must be at least 1s", envVarTURNRESTTTL)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	allowedOrigins, err := parseAllowedOrigins(s.allowedOrigins)
	if err != nil {
		return Config{}, fmt.Errorf("%s/%s: %w", envVarAllowedOrigins, "--allowed-origins", err)
	}

	cfg := Config{
		ConfigFile:                    configFile,
		ListenAddr:                    listenAddr,
		PublicDir:                     strings.TrimSpace(s.publicDir),
		AllowedOrigins:                allowedOrigins,
		Mode:                          mode,
		LogFormat:                     logFormat,
		LogLevel:                      level,
		ShutdownTimeout:               s.shutdownTimeout,
		HeartbeatPeriod:               s.heartbeatPeriod,
		StaleThreshold:                s.staleThreshold,
		MaxSignalingMessageBytes:      s.maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: s.maxSignalingMessagesPerSecond,
		SignalingSendQueueBytes:       s.signalingSendQueueBytes,
		TURNREST:                      turnREST,
	}

	iceServers, err := parseICEServersFromValues(s.iceServersJSON, s.stunURLs, s.turnURLs, s.turnUsername, s.turnCredential, turnREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func applyEnv(lookup func(string) (string, bool), s *settings) error {
	if port := envOrDefault(lookup, envVarPort, ""); port != "" {
		s.listenAddr = ":" + strings.TrimSpace(port)
	}
	s.listenAddr = envOrDefault(lookup, envVarListenAddr, s.listenAddr)
	s.publicDir = envOrDefault(lookup, envVarPublicDir, s.publicDir)
	s.mode = envOrDefault(lookup, envVarMode, s.mode)
	s.logFormat = envOrDefault(lookup, envVarLogFormat, s.logFormat)
	s.logLevel = envOrDefault(lookup, envVarLogLevel, s.logLevel)
	s.allowedOrigins = envOrDefault(lookup, envVarAllowedOrigins, s.allowedOrigins)
	s.iceServersJSON = envOrDefault(lookup, envICEServersJSON, s.iceServersJSON)
	s.stunURLs = envOrDefault(lookup, envStunURLs, s.stunURLs)
	s.turnURLs = envOrDefault(lookup, envTurnURLs, s.turnURLs)
	s.turnUsername = envOrDefault(lookup, envTurnUsername, s.turnUsername)
	s.turnCredential = envOrDefault(lookup, envTurnCredential, s.turnCredential)
	s.turnRESTSharedSecret = envOrDefault(lookup, envVarTURNRESTSharedSecret, s.turnRESTSharedSecret)
	s.turnRESTUsernamePrefix = envOrDefault(lookup, envVarTURNRESTUsernamePrefix, s.turnRESTUsernamePrefix)

	var err error
	if s.shutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, s.shutdownTimeout); err != nil {
		return err
	}
	if s.turnRESTTTL, err = envDurationOrDefault(lookup, envVarTURNRESTTTL, s.turnRESTTTL); err != nil {
		return err
	}
	if s.heartbeatPeriod, err = envDurationOrDefault(lookup, envVarHeartbeatPeriod, s.heartbeatPeriod); err != nil {
		return err
	}
	if s.staleThreshold, err = envDurationOrDefault(lookup, envVarStaleThreshold, s.staleThreshold); err != nil {
		return err
	}
	if s.maxSignalingMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, s.maxSignalingMessagesPerSecond); err != nil {
		return err
	}
	if s.signalingSendQueueBytes, err = envIntOrDefault(lookup, envVarSignalingSendQueueBytes, s.signalingSendQueueBytes); err != nil {
		return err
	}
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		s.maxSignalingMessageBytes = n
	}
	return nil
}

// configPathFromArgs finds --config before the full flag set exists, so the
// file layer can sit underneath env and flags.
func configPathFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v, true
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	if len(out) == 0 {
		return nil, errors.New("no origins listed")
	}
	return out, nil
}
