// Package config loads and validates the groundlink YAML configuration.
package config

// Config is the root of the YAML configuration file.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// ---- LINK ----

// LinkConfig controls the telemetry stream connection.
type LinkConfig struct {
	// LegacyMode skips broadcast discovery and connects straight to
	// LegacyHost:LegacyPort.
	LegacyMode bool   `yaml:"legacy_mode"`
	LegacyHost string `yaml:"legacy_host"`
	LegacyPort int    `yaml:"legacy_port"`

	// IdleTimeoutMs is how long the stream may stay silent before a
	// data-relay timeout is signalled. The connection stays open.
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`

	// MaxListeners caps subscribers per packet category.
	MaxListeners int `yaml:"max_listeners"`
}

// ---- DISCOVERY ----

// DiscoveryConfig controls broadcast auto-discovery of the flight-data source.
type DiscoveryConfig struct {
	Port     int `yaml:"port"`
	WindowMs int `yaml:"window_ms"`
}

// ---- HISTORY ----

// HistoryConfig controls the sqlite telemetry archive.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
}
