package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits a key.
const (
	DefaultLegacyPort    = 8880
	DefaultIdleTimeoutMs = 5000
	DefaultMaxListeners  = 16
	DefaultDiscoveryPort = 4445
	DefaultWindowMs      = 1000
	DefaultHistoryPath   = "groundlink.db"
	DefaultLogLevel      = "info"
)

// Load reads, defaults, and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration, useful for tests and for
// running without a file.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Link.LegacyPort == 0 {
		c.Link.LegacyPort = DefaultLegacyPort
	}
	if c.Link.IdleTimeoutMs == 0 {
		c.Link.IdleTimeoutMs = DefaultIdleTimeoutMs
	}
	if c.Link.MaxListeners == 0 {
		c.Link.MaxListeners = DefaultMaxListeners
	}
	if c.Discovery.Port == 0 {
		c.Discovery.Port = DefaultDiscoveryPort
	}
	if c.Discovery.WindowMs == 0 {
		c.Discovery.WindowMs = DefaultWindowMs
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
