package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.DiscoveryAddr != DefaultDiscoveryAddr {
		t.Errorf("DiscoveryAddr = %q, want %q", cfg.DiscoveryAddr, DefaultDiscoveryAddr)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, DefaultSessionTTL)
	}
	if cfg.HostTimeout != DefaultHostTimeout {
		t.Errorf("HostTimeout = %v, want %v", cfg.HostTimeout, DefaultHostTimeout)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeDev)
	}
	// Dev mode defaults to human-readable debug logging.
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	env := map[string]string{"RENDEZVOUS_MODE": "prod"}
	cfg, err := load(lookupFromMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		"SESSION_TTL":  "10m",
		"HOST_TIMEOUT": "30s",
	}
	cfg, err := load(lookupFromMap(env), []string{"--session-ttl=5m"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("SessionTTL = %v, want 5m (flag should win over env)", cfg.SessionTTL)
	}
	if cfg.HostTimeout != 30*time.Second {
		t.Errorf("HostTimeout = %v, want 30s (env)", cfg.HostTimeout)
	}
}

func TestLoad_AllowedOriginsNormalized(t *testing.T) {
	env := map[string]string{"ALLOWED_ORIGINS": "https://App.Example/, https://other.example"}
	cfg, err := load(lookupFromMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example", "https://other.example"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		args    []string
		wantSub string
	}{
		{
			name:    "bad session ttl",
			env:     map[string]string{"SESSION_TTL": "soon"},
			wantSub: "SESSION_TTL",
		},
		{
			name:    "zero host timeout",
			args:    []string{"--host-timeout=0s"},
			wantSub: "host-timeout",
		},
		{
			name:    "ping not below idle",
			args:    []string{"--signal-ws-ping-interval=60s", "--signal-ws-idle-timeout=60s"},
			wantSub: "ping-interval",
		},
		{
			name:    "bad discovery addr",
			args:    []string{"--discovery-addr=nope"},
			wantSub: "discovery-addr",
		},
		{
			name:    "bad mode",
			args:    []string{"--mode=staging"},
			wantSub: "invalid mode",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFromMap(tc.env), tc.args)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
