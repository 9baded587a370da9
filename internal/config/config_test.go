package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groundlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "link:\n  legacy_mode: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discovery.Port != DefaultDiscoveryPort {
		t.Errorf("discovery port = %d, want %d", cfg.Discovery.Port, DefaultDiscoveryPort)
	}
	if cfg.Discovery.WindowMs != DefaultWindowMs {
		t.Errorf("window = %d, want %d", cfg.Discovery.WindowMs, DefaultWindowMs)
	}
	if cfg.Link.IdleTimeoutMs != DefaultIdleTimeoutMs {
		t.Errorf("idle timeout = %d, want %d", cfg.Link.IdleTimeoutMs, DefaultIdleTimeoutMs)
	}
	if cfg.Link.MaxListeners != DefaultMaxListeners {
		t.Errorf("max listeners = %d, want %d", cfg.Link.MaxListeners, DefaultMaxListeners)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("log level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeTemp(t, `
link:
  legacy_mode: true
  legacy_host: 192.168.4.20
  legacy_port: 9123
  idle_timeout_ms: 2500
discovery:
  port: 6000
  window_ms: 750
history:
  enabled: true
  path: /tmp/telem.db
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Link.LegacyMode || cfg.Link.LegacyHost != "192.168.4.20" || cfg.Link.LegacyPort != 9123 {
		t.Errorf("link section mismatch: %+v", cfg.Link)
	}
	if cfg.Discovery.Port != 6000 || cfg.Discovery.WindowMs != 750 {
		t.Errorf("discovery section mismatch: %+v", cfg.Discovery)
	}
	if !cfg.History.Enabled || cfg.History.Path != "/tmp/telem.db" {
		t.Errorf("history section mismatch: %+v", cfg.History)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"legacy mode without host", func(c *Config) { c.Link.LegacyMode = true; c.Link.LegacyHost = "" }},
		{"legacy port out of range", func(c *Config) { c.Link.LegacyPort = 70000 }},
		{"discovery port out of range", func(c *Config) { c.Discovery.Port = -1 }},
		{"non-positive window", func(c *Config) { c.Discovery.WindowMs = 0 }},
		{"negative idle timeout", func(c *Config) { c.Link.IdleTimeoutMs = -5 }},
		{"non-positive max listeners", func(c *Config) { c.Link.MaxListeners = 0 }},
		{"history without path", func(c *Config) { c.History.Enabled = true; c.History.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
