// Package am manages the pulsed core configuration.
package am

import "time"

// Config represents the pulsed daemon configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Ticker    TickerConfig    `mapstructure:"ticker"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Server    ServerConfig    `mapstructure:"server"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Cred      CredConfig      `mapstructure:"cred"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// TickerConfig configures the scheduler loop
type TickerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"` // How often to check for due pulses (default: 1)
}

// Interval returns the tick interval as a duration
func (c TickerConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ExecutorConfig configures the agent subprocess executor
type ExecutorConfig struct {
	Binary         string   `mapstructure:"binary"`          // Agent CLI binary (e.g. "claude")
	Args           []string `mapstructure:"args"`            // Extra arguments passed before the prompt
	TimeoutSeconds int      `mapstructure:"timeout_seconds"` // Max execution duration (default: 1800)
	WorkingDir     string   `mapstructure:"working_dir"`     // Working directory for the agent process
}

// Timeout returns the maximum execution duration
func (c ExecutorConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryConfig configures the backoff policy for failed pulses.
// Backoff is deterministic (no jitter) so retry timing is reproducible.
type RetryConfig struct {
	BaseIntervalSeconds int `mapstructure:"base_interval_seconds"` // First retry delay (default: 60)
	MaxIntervalSeconds  int `mapstructure:"max_interval_seconds"`  // Backoff cap (default: 3600)
	DefaultMax          int `mapstructure:"default_max"`           // max_retries when a producer does not specify one
}

// BaseInterval returns the first retry delay
func (c RetryConfig) BaseInterval() time.Duration {
	if c.BaseIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.BaseIntervalSeconds) * time.Second
}

// MaxInterval returns the backoff cap
func (c RetryConfig) MaxInterval() time.Duration {
	if c.MaxIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.MaxIntervalSeconds) * time.Second
}

// ServerConfig configures the HTTP ingest/query facade
type ServerConfig struct {
	Port        int     `mapstructure:"port"`         // Listen port (default: 8790)
	IngestRate  float64 `mapstructure:"ingest_rate"`  // Sustained ingest requests per second
	IngestBurst int     `mapstructure:"ingest_burst"` // Ingest burst size
}

// AlertConfig configures the alert hook
type AlertConfig struct {
	Backend         string              `mapstructure:"backend"`          // "log" or "telegram"
	CooldownSeconds int                 `mapstructure:"cooldown_seconds"` // Default dedup window (default: 3600)
	Telegram        TelegramAlertConfig `mapstructure:"telegram"`
}

// TelegramAlertConfig configures the telegram alert backend
type TelegramAlertConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// HeartbeatConfig configures the cron-driven heartbeat producer
type HeartbeatConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // Cron expression (default: hourly)
	Prompt   string `mapstructure:"prompt"`   // Prompt enqueued on each heartbeat
}

// CredConfig configures the credential provider
type CredConfig struct {
	Provider       string `mapstructure:"provider"`        // "none" or "command"
	CheckCommand   string `mapstructure:"check_command"`   // Command run to verify credentials
	RefreshCommand string `mapstructure:"refresh_command"` // Command run to refresh credentials
}
