package am

import (
	"github.com/teranos/pulsed/errors"
)

// Validate checks the configuration for values the daemon cannot run with.
// Called once at startup; a validation failure is fatal to the process.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Ticker.IntervalSeconds < 1 {
		return errors.Newf("ticker.interval_seconds must be >= 1, got %d", c.Ticker.IntervalSeconds)
	}
	if c.Executor.Binary == "" {
		return errors.New("executor.binary must not be empty")
	}
	if c.Retry.BaseIntervalSeconds < 1 {
		return errors.Newf("retry.base_interval_seconds must be >= 1, got %d", c.Retry.BaseIntervalSeconds)
	}
	if c.Retry.MaxIntervalSeconds < c.Retry.BaseIntervalSeconds {
		return errors.Newf("retry.max_interval_seconds (%d) must be >= retry.base_interval_seconds (%d)",
			c.Retry.MaxIntervalSeconds, c.Retry.BaseIntervalSeconds)
	}
	if c.Retry.DefaultMax < 0 {
		return errors.Newf("retry.default_max must be >= 0, got %d", c.Retry.DefaultMax)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	switch c.Alerts.Backend {
	case "log":
	case "telegram":
		if c.Alerts.Telegram.Token == "" {
			return errors.New("alerts.telegram.token required when alerts.backend is telegram")
		}
	default:
		return errors.Newf("unknown alerts.backend %q (expected log or telegram)", c.Alerts.Backend)
	}

	if c.Heartbeat.Enabled && c.Heartbeat.Schedule == "" {
		return errors.New("heartbeat.schedule required when heartbeat is enabled")
	}

	return nil
}
