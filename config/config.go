// Package config owns hirewire configuration: typed sections, defaults,
// and loading from TOML files and HIREWIRE_* environment variables.
package config

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/queue"
	"github.com/hirewire/hirewire/scraper"
	"github.com/hirewire/hirewire/worker"
)

// Config is the root hirewire configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Live     LiveConfig     `mapstructure:"live"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds job store settings.
type DatabaseConfig struct {
	Path     string `mapstructure:"path"`      // SQLite file path
	InMemory bool   `mapstructure:"in_memory"` // volatile store, for dev and tests
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkerConfig holds background processor settings.
type WorkerConfig struct {
	PollIntervalSeconds    int   `mapstructure:"poll_interval_seconds"`    // claim sweep cadence (default: 30)
	ClaimBatch             int   `mapstructure:"claim_batch"`              // records claimed per sweep (default: 10)
	MaxConcurrent          int64 `mapstructure:"max_concurrent"`           // handler concurrency ceiling (default: 5)
	StaleThresholdMinutes  int   `mapstructure:"stale_threshold_minutes"`  // processing age before reaping (default: 10)
	RetentionDays          int   `mapstructure:"retention_days"`           // terminal record retention, 0 disables cleanup (default: 30)
	CleanupIntervalMinutes int   `mapstructure:"cleanup_interval_minutes"` // cleanup sweep cadence (default: 60)
}

// ScraperConfig holds scrape scheduler settings.
type ScraperConfig struct {
	ReconcileIntervalSeconds int     `mapstructure:"reconcile_interval_seconds"` // timer drift sweep cadence (default: 300)
	MaxTargetsPerTick        int     `mapstructure:"max_targets_per_tick"`       // targets enqueued per source tick (default: 10)
	Priority                 string  `mapstructure:"priority"`                   // enqueue priority level (default: medium)
	GlobalRatePerSecond      float64 `mapstructure:"global_rate_per_second"`     // cross-source enqueue pacer (default: 5)
	GlobalBurst              int     `mapstructure:"global_burst"`               // pacer burst (default: 10)
}

// LiveConfig holds websocket status channel settings.
type LiveConfig struct {
	MaxSubscribers int `mapstructure:"max_subscribers"` // connection cap, 1 to 1000 (default: 100)
}

// LogConfig holds logging settings.
type LogConfig struct {
	JSON bool `mapstructure:"json"` // structured JSON output instead of console
}

// WorkerConfig maps the section onto the processor's runtime config,
// falling back to processor defaults for zero values.
func (c *Config) WorkerConfig() worker.Config {
	cfg := worker.DefaultConfig()
	if c.Worker.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(c.Worker.PollIntervalSeconds) * time.Second
	}
	if c.Worker.ClaimBatch > 0 {
		cfg.ClaimBatch = c.Worker.ClaimBatch
	}
	if c.Worker.MaxConcurrent > 0 {
		cfg.MaxConcurrent = c.Worker.MaxConcurrent
	}
	if c.Worker.StaleThresholdMinutes > 0 {
		cfg.StaleThreshold = time.Duration(c.Worker.StaleThresholdMinutes) * time.Minute
	}
	cfg.RetentionDays = c.Worker.RetentionDays
	if c.Worker.CleanupIntervalMinutes > 0 {
		cfg.CleanupInterval = time.Duration(c.Worker.CleanupIntervalMinutes) * time.Minute
	}
	return cfg
}

// SchedulerConfig maps the section onto the scrape scheduler's runtime
// config. An unrecognized priority level is an error rather than a
// silent default.
func (c *Config) SchedulerConfig() (scraper.SchedulerConfig, error) {
	cfg := scraper.DefaultSchedulerConfig()
	if c.Scraper.ReconcileIntervalSeconds > 0 {
		cfg.ReconcileInterval = time.Duration(c.Scraper.ReconcileIntervalSeconds) * time.Second
	}
	if c.Scraper.MaxTargetsPerTick > 0 {
		cfg.MaxTargetsPerTick = c.Scraper.MaxTargetsPerTick
	}
	if c.Scraper.Priority != "" {
		level, err := queue.ParsePriority(c.Scraper.Priority)
		if err != nil {
			return cfg, errors.Wrapf(err, "scraper.priority %q", c.Scraper.Priority)
		}
		cfg.Priority = level
	}
	if c.Scraper.GlobalRatePerSecond > 0 {
		cfg.GlobalRate = rate.Limit(c.Scraper.GlobalRatePerSecond)
	}
	if c.Scraper.GlobalBurst > 0 {
		cfg.GlobalBurst = c.Scraper.GlobalBurst
	}
	return cfg, nil
}
