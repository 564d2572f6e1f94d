package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "pulsed.db")

	// Ticker defaults
	v.SetDefault("ticker.interval_seconds", 1)

	// Executor defaults
	v.SetDefault("executor.binary", "claude")
	v.SetDefault("executor.args", []string{"-p"})
	v.SetDefault("executor.timeout_seconds", 1800) // 30 minutes per execution
	v.SetDefault("executor.working_dir", "")

	// Retry defaults (deterministic backoff: 60s, 120s, 240s ... capped at 1h)
	v.SetDefault("retry.base_interval_seconds", 60)
	v.SetDefault("retry.max_interval_seconds", 3600)
	v.SetDefault("retry.default_max", 3)

	// Server defaults
	v.SetDefault("server.port", 8790)
	v.SetDefault("server.ingest_rate", 5.0) // Sustained ingest req/s
	v.SetDefault("server.ingest_burst", 10)

	// Alert defaults
	v.SetDefault("alerts.backend", "log")
	v.SetDefault("alerts.cooldown_seconds", 3600)
	v.SetDefault("alerts.telegram.token", "")
	v.SetDefault("alerts.telegram.chat_id", 0)

	// Heartbeat defaults
	v.SetDefault("heartbeat.enabled", false)
	v.SetDefault("heartbeat.schedule", "0 * * * *") // Hourly
	v.SetDefault("heartbeat.prompt", "Check for new mail and pending follow-ups.")

	// Credential provider defaults
	v.SetDefault("cred.provider", "none")
	v.SetDefault("cred.check_command", "")
	v.SetDefault("cred.refresh_command", "")
}

// BindSensitiveEnvVars binds secrets to environment variables so they never
// need to live in the config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("alerts.telegram.token", "PULSED_TELEGRAM_TOKEN")
	v.BindEnv("alerts.telegram.chat_id", "PULSED_TELEGRAM_CHAT_ID")
}
