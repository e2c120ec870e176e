package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "server url required",
			mutate: func(c *Config) { c.Client.ServerURL = "" },
		},
		{
			name:   "server url must be a websocket url",
			mutate: func(c *Config) { c.Client.ServerURL = "http://localhost:8080/ws" },
		},
		{
			name:   "negative rejoin delay",
			mutate: func(c *Config) { c.Client.RejoinDelay = -time.Second },
		},
		{
			name: "reconnect max delay below initial",
			mutate: func(c *Config) {
				c.Client.Reconnect.InitialDelay = time.Second
				c.Client.Reconnect.MaxDelay = time.Millisecond
			},
		},
		{
			name: "capture needs at least one kind",
			mutate: func(c *Config) {
				c.Capture.AudioEnabled = false
				c.Capture.VideoEnabled = false
			},
		},
		{
			name: "device kind must be audio or video",
			mutate: func(c *Config) {
				c.Capture.Devices = []Device{{ID: "cam", Kind: "screen"}}
			},
		},
		{
			name: "duplicate device ids",
			mutate: func(c *Config) {
				c.Capture.Devices = []Device{{ID: "mic", Kind: "audio"}, {ID: "mic", Kind: "audio"}}
			},
		},
		{
			name: "port range must be ordered",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
				c.WebRTC.PortRange.Max = 40000
			},
		},
		{
			name: "backup dir required when enabled",
			mutate: func(c *Config) {
				c.Backup.Enabled = true
				c.Backup.Dir = ""
			},
		},
		{
			name: "backup must keep at least one snapshot",
			mutate: func(c *Config) {
				c.Backup.Enabled = true
				c.Backup.Keep = 0
			},
		},
		{
			name: "redis signal channel required",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.SignalChannel = ""
			},
		},
		{
			name: "redis breaker timeout required",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Breaker.OpenTimeout = 0
			},
		},
		{
			name: "tracing sample rate out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 2
			},
		},
		{
			name: "ws messages per second must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.WebSocket.MessagesPerSecond = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.RejoinDelay != 2*time.Second {
		t.Fatalf("expected default rejoin delay, got %v", cfg.Client.RejoinDelay)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
client:
  server_url: ws://example.test/ws
  auto_rejoin: false
  rejoin_delay: 500ms
capture:
  devices:
    - id: cam0
      kind: video
      path: /tmp/cam0.ivf
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLUXX_AUTO_REJOIN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Client.ServerURL != "ws://example.test/ws" {
		t.Fatalf("server url not loaded: %s", cfg.Client.ServerURL)
	}
	if cfg.Client.RejoinDelay != 500*time.Millisecond {
		t.Fatalf("rejoin delay not loaded: %v", cfg.Client.RejoinDelay)
	}
	if !cfg.Client.AutoRejoin {
		t.Fatalf("expected env override to enable auto rejoin")
	}
	if len(cfg.Capture.Devices) != 1 || cfg.Capture.Devices[0].ID != "cam0" {
		t.Fatalf("devices not loaded: %+v", cfg.Capture.Devices)
	}
}
