package config

import (
	"errors"
	"fmt"
)

var (
	ErrLegacyHostRequired = errors.New("config: legacy_mode requires link.legacy_host")
	ErrHistoryPathEmpty   = errors.New("config: history.enabled requires history.path")
)

// Validate checks ranges and cross-field requirements. It is called by Load
// after defaults have been applied.
func (c Config) Validate() error {
	if c.Link.LegacyMode && c.Link.LegacyHost == "" {
		return ErrLegacyHostRequired
	}
	if err := validPort("link.legacy_port", c.Link.LegacyPort); err != nil {
		return err
	}
	if err := validPort("discovery.port", c.Discovery.Port); err != nil {
		return err
	}
	if c.Discovery.WindowMs <= 0 {
		return fmt.Errorf("config: discovery.window_ms must be > 0, got %d", c.Discovery.WindowMs)
	}
	if c.Link.IdleTimeoutMs < 0 {
		return fmt.Errorf("config: link.idle_timeout_ms must be >= 0, got %d", c.Link.IdleTimeoutMs)
	}
	if c.Link.MaxListeners <= 0 {
		return fmt.Errorf("config: link.max_listeners must be > 0, got %d", c.Link.MaxListeners)
	}
	if c.History.Enabled && c.History.Path == "" {
		return ErrHistoryPathEmpty
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s out of range: %d", key, port)
	}
	return nil
}
