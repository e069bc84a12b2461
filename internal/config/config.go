// Package config loads server configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Scheduler struct {
		Enabled         bool `yaml:"enabled"`
		IntervalMinutes int  `yaml:"interval_minutes"` // pause between scheduled syncs
	} `yaml:"scheduler"`

	Upstream struct {
		BaseURL          string `yaml:"base_url"`
		APIKey           string `yaml:"api_key"` // falls back to DATA_GOV_API_KEY
		DateField        string `yaml:"date_field"`
		PageLimit        int    `yaml:"page_limit"`
		MaxRetries       int    `yaml:"max_retries"`
		TimeoutSeconds   int    `yaml:"timeout_seconds"`
		PageDelaySeconds int    `yaml:"page_delay_seconds"`
		HistoricalDelay  int    `yaml:"historical_delay_seconds"` // per page of date-filtered pulls
	} `yaml:"upstream"`

	Postgres struct {
		DSN     string `yaml:"dsn"` // falls back to POSTGRES_DSN
		Migrate bool   `yaml:"migrate"`
	} `yaml:"postgres"`

	Seed struct {
		ChunkSize int `yaml:"chunk_size"` // rows per bulk upsert
	} `yaml:"seed"`

	Backfill struct {
		MinExisting          int64 `yaml:"min_existing"` // rows per day that count as filled
		InterDayDelaySeconds int   `yaml:"inter_day_delay_seconds"`
	} `yaml:"backfill"`
}

// LoadConfig loads configuration from a YAML file. Secrets left empty in the
// file fall back to environment variables so they stay out of version control.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Scheduler.IntervalMinutes == 0 {
		cfg.Scheduler.IntervalMinutes = 60
	}
	if cfg.Upstream.DateField == "" {
		cfg.Upstream.DateField = "Arrival_Date"
	}
	if cfg.Upstream.PageLimit == 0 {
		cfg.Upstream.PageLimit = 1000
	}
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = 3
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 30
	}
	if cfg.Upstream.PageDelaySeconds == 0 {
		cfg.Upstream.PageDelaySeconds = 1
	}
	if cfg.Upstream.HistoricalDelay == 0 {
		cfg.Upstream.HistoricalDelay = 2
	}
	if cfg.Seed.ChunkSize == 0 {
		cfg.Seed.ChunkSize = 500
	}
	if cfg.Backfill.MinExisting == 0 {
		cfg.Backfill.MinExisting = 5000
	}
	if cfg.Backfill.InterDayDelaySeconds == 0 {
		cfg.Backfill.InterDayDelaySeconds = 5
	}

	// Environment fallbacks for secrets
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv("DATA_GOV_API_KEY")
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = os.Getenv("POSTGRES_DSN")
	}

	return &cfg, nil
}

// SchedulerInterval returns the pause between scheduled syncs.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalMinutes) * time.Minute
}

// UpstreamTimeout returns the HTTP timeout for upstream requests.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// PageDelay returns the pause between consecutive page fetches.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.Upstream.PageDelaySeconds) * time.Second
}

// HistoricalDelay returns the pause between page fetches of date-filtered pulls.
func (c *Config) HistoricalDelay() time.Duration {
	return time.Duration(c.Upstream.HistoricalDelay) * time.Second
}

// InterDayDelay returns the pause between backfilled days.
func (c *Config) InterDayDelay() time.Duration {
	return time.Duration(c.Backfill.InterDayDelaySeconds) * time.Second
}
