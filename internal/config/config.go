package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "RENDEZVOUS_LISTEN_ADDR"
	envVarDiscoveryAddr   = "RENDEZVOUS_DISCOVERY_ADDR"
	envVarMode            = "RENDEZVOUS_MODE"
	envVarLogFormat       = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel        = "RENDEZVOUS_LOG_LEVEL"
	envVarShutdownTimeout = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Registry TTL/sweep knobs. Sweep intervals are deliberately decoupled from
	// the TTLs: an entry may outlive its nominal expiry by up to one interval.
	envVarSessionTTL           = "SESSION_TTL"
	envVarSessionSweepInterval = "SESSION_SWEEP_INTERVAL"
	envVarHostTimeout          = "HOST_TIMEOUT"
	envVarHostSweepInterval    = "HOST_SWEEP_INTERVAL"

	// Signaling WebSocket hardening.
	envVarMaxSignalMessageBytes      = "MAX_SIGNAL_MESSAGE_BYTES"
	envVarMaxSignalMessagesPerSecond = "MAX_SIGNAL_MESSAGES_PER_SECOND"
	envVarSignalPingInterval         = "SIGNAL_WS_PING_INTERVAL"
	envVarSignalIdleTimeout          = "SIGNAL_WS_IDLE_TIMEOUT"

	DefaultListenAddr    = "127.0.0.1:8080"
	DefaultDiscoveryAddr = ":3478"
	DefaultShutdown      = 15 * time.Second

	// DefaultSessionTTL is a hard lifetime from creation, not an idle timer.
	DefaultSessionTTL           = 30 * time.Minute
	DefaultSessionSweepInterval = 5 * time.Minute
	DefaultHostTimeout          = 45 * time.Second
	DefaultHostSweepInterval    = 15 * time.Second

	DefaultMaxSignalMessageBytes            = int64(64 * 1024)
	DefaultMaxSignalMessagesPerSecond       = 50
	DefaultSignalPingInterval               = 20 * time.Second
	DefaultSignalIdleTimeout                = 60 * time.Second
	DefaultMode                        Mode = ModeDev
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

type Config struct {
	// ListenAddr serves HTTP and the signaling WebSocket on one listener.
	ListenAddr string
	// DiscoveryAddr is the UDP address for the reflexive-address probe.
	DiscoveryAddr string

	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts WebSocket upgrades by Origin header. Empty means
	// all origins are accepted.
	AllowedOrigins []string

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	HostTimeout          time.Duration
	HostSweepInterval    time.Duration

	MaxSignalMessageBytes      int64
	MaxSignalMessagesPerSecond int
	SignalPingInterval         time.Duration
	SignalIdleTimeout          time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	discoveryAddr := envOrDefault(lookup, envVarDiscoveryAddr, DefaultDiscoveryAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	sessionTTL, err := envDurationOrDefault(lookup, envVarSessionTTL, DefaultSessionTTL)
	if err != nil {
		return Config{}, err
	}
	sessionSweepInterval, err := envDurationOrDefault(lookup, envVarSessionSweepInterval, DefaultSessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	hostTimeout, err := envDurationOrDefault(lookup, envVarHostTimeout, DefaultHostTimeout)
	if err != nil {
		return Config{}, err
	}
	hostSweepInterval, err := envDurationOrDefault(lookup, envVarHostSweepInterval, DefaultHostSweepInterval)
	if err != nil {
		return Config{}, err
	}
	signalPingInterval, err := envDurationOrDefault(lookup, envVarSignalPingInterval, DefaultSignalPingInterval)
	if err != nil {
		return Config{}, err
	}
	signalIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalIdleTimeout, DefaultSignalIdleTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalMessageBytes := DefaultMaxSignalMessageBytes
	if raw, ok := lookup(envVarMaxSignalMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalMessageBytes, raw, err)
		}
		maxSignalMessageBytes = n
	}

	maxSignalMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("rendezvousd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP+signaling listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&discoveryAddr, "discovery-addr", discoveryAddr, "UDP listen address for endpoint discovery (env "+envVarDiscoveryAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.DurationVar(&sessionTTL, "session-ttl", sessionTTL, "Hard session lifetime from creation (env "+envVarSessionTTL+")")
	fs.DurationVar(&sessionSweepInterval, "session-sweep-interval", sessionSweepInterval, "Interval between session expiry sweeps (env "+envVarSessionSweepInterval+")")
	fs.DurationVar(&hostTimeout, "host-timeout", hostTimeout, "Host heartbeat TTL (env "+envVarHostTimeout+")")
	fs.DurationVar(&hostSweepInterval, "host-sweep-interval", hostSweepInterval, "Interval between host expiry sweeps (env "+envVarHostSweepInterval+")")
	fs.Int64Var(&maxSignalMessageBytes, "max-signal-message-bytes", maxSignalMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalMessageBytes+")")
	fs.IntVar(&maxSignalMessagesPerSecond, "max-signal-messages-per-second", maxSignalMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalMessagesPerSecond+")")
	fs.DurationVar(&signalPingInterval, "signal-ws-ping-interval", signalPingInterval, "Ping interval on signaling connections (must be < --signal-ws-idle-timeout; env "+envVarSignalPingInterval+")")
	fs.DurationVar(&signalIdleTimeout, "signal-ws-idle-timeout", signalIdleTimeout, "Close idle signaling connections after this duration (env "+envVarSignalIdleTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(discoveryAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--discovery-addr %q: %w", envVarDiscoveryAddr, discoveryAddr, err)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if sessionTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--session-ttl must be > 0", envVarSessionTTL)
	}
	if sessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--session-sweep-interval must be > 0", envVarSessionSweepInterval)
	}
	if hostTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--host-timeout must be > 0", envVarHostTimeout)
	}
	if hostSweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--host-sweep-interval must be > 0", envVarHostSweepInterval)
	}
	if maxSignalMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signal-message-bytes must be > 0", envVarMaxSignalMessageBytes)
	}
	if maxSignalMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signal-messages-per-second must be > 0", envVarMaxSignalMessagesPerSecond)
	}
	if signalPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signal-ws-ping-interval must be > 0", envVarSignalPingInterval)
	}
	if signalIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signal-ws-idle-timeout must be > 0", envVarSignalIdleTimeout)
	}
	if signalPingInterval >= signalIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signal-ws-ping-interval must be < %s/--signal-ws-idle-timeout", envVarSignalPingInterval, envVarSignalIdleTimeout)
	}

	return Config{
		ListenAddr:      listenAddr,
		DiscoveryAddr:   discoveryAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  parseAllowedOrigins(allowedOriginsStr),

		SessionTTL:           sessionTTL,
		SessionSweepInterval: sessionSweepInterval,
		HostTimeout:          hostTimeout,
		HostSweepInterval:    hostSweepInterval,

		MaxSignalMessageBytes:      maxSignalMessageBytes,
		MaxSignalMessagesPerSecond: maxSignalMessagesPerSecond,
		SignalPingInterval:         signalPingInterval,
		SignalIdleTimeout:          signalIdleTimeout,
	}, nil
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

func parseAllowedOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, strings.ToLower(strings.TrimSuffix(part, "/")))
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
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
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn, or error)", raw)
	}
}
