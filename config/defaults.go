package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "hirewire.db")
	v.SetDefault("database.in_memory", false)

	// Server defaults
	v.SetDefault("server.port", 8710)

	// Worker defaults
	v.SetDefault("worker.poll_interval_seconds", 30)
	v.SetDefault("worker.claim_batch", 10)
	v.SetDefault("worker.max_concurrent", 5)
	v.SetDefault("worker.stale_threshold_minutes", 10)
	v.SetDefault("worker.retention_days", 30)
	v.SetDefault("worker.cleanup_interval_minutes", 60)

	// Scraper defaults
	v.SetDefault("scraper.reconcile_interval_seconds", 300)
	v.SetDefault("scraper.max_targets_per_tick", 10)
	v.SetDefault("scraper.priority", "medium")
	v.SetDefault("scraper.global_rate_per_second", 5.0)
	v.SetDefault("scraper.global_burst", 10)

	// Live status channel defaults
	v.SetDefault("live.max_subscribers", 100)

	// Log defaults
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds deployment-specific configuration
// to environment variables.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "HIREWIRE_DATABASE_PATH")
	v.BindEnv("server.port", "HIREWIRE_SERVER_PORT")
}
