package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base_url: https://api.example.org/resource/abc
  api_key: test-key
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Scheduler.IntervalMinutes != 60 {
		t.Errorf("expected default interval 60, got %d", cfg.Scheduler.IntervalMinutes)
	}
	if cfg.Upstream.DateField != "Arrival_Date" {
		t.Errorf("expected default date field Arrival_Date, got %s", cfg.Upstream.DateField)
	}
	if cfg.Upstream.PageLimit != 1000 {
		t.Errorf("expected default page limit 1000, got %d", cfg.Upstream.PageLimit)
	}
	if cfg.Upstream.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Upstream.MaxRetries)
	}
	if cfg.Seed.ChunkSize != 500 {
		t.Errorf("expected default chunk size 500, got %d", cfg.Seed.ChunkSize)
	}
	if cfg.Backfill.MinExisting != 5000 {
		t.Errorf("expected default min existing 5000, got %d", cfg.Backfill.MinExisting)
	}

	if got := cfg.SchedulerInterval(); got != 60*time.Minute {
		t.Errorf("expected scheduler interval 60m, got %v", got)
	}
	if got := cfg.UpstreamTimeout(); got != 30*time.Second {
		t.Errorf("expected upstream timeout 30s, got %v", got)
	}
	if got := cfg.PageDelay(); got != time.Second {
		t.Errorf("expected page delay 1s, got %v", got)
	}
	if got := cfg.HistoricalDelay(); got != 2*time.Second {
		t.Errorf("expected historical delay 2s, got %v", got)
	}
	if got := cfg.InterDayDelay(); got != 5*time.Second {
		t.Errorf("expected inter-day delay 5s, got %v", got)
	}
}

func TestLoadConfig_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
scheduler:
  enabled: true
  interval_minutes: 15
upstream:
  base_url: https://api.example.org/resource/abc
  api_key: file-key
  page_limit: 250
  max_retries: 8
  timeout_seconds: 10
postgres:
  dsn: postgres://app:secret@db:5432/prices
  migrate: true
seed:
  chunk_size: 200
backfill:
  min_existing: 100
  inter_day_delay_seconds: 1
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("expected addr :9000, got %s", cfg.Server.Addr)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("expected scheduler enabled")
	}
	if got := cfg.SchedulerInterval(); got != 15*time.Minute {
		t.Errorf("expected scheduler interval 15m, got %v", got)
	}
	if cfg.Upstream.PageLimit != 250 {
		t.Errorf("expected page limit 250, got %d", cfg.Upstream.PageLimit)
	}
	if cfg.Upstream.MaxRetries != 8 {
		t.Errorf("expected max retries 8, got %d", cfg.Upstream.MaxRetries)
	}
	if !cfg.Postgres.Migrate {
		t.Error("expected migrate enabled")
	}
	if cfg.Seed.ChunkSize != 200 {
		t.Errorf("expected chunk size 200, got %d", cfg.Seed.ChunkSize)
	}
	if cfg.Backfill.MinExisting != 100 {
		t.Errorf("expected min existing 100, got %d", cfg.Backfill.MinExisting)
	}
}

func TestLoadConfig_EnvFallbacks(t *testing.T) {
	t.Setenv("DATA_GOV_API_KEY", "env-key")
	t.Setenv("POSTGRES_DSN", "postgres://env:env@db:5432/prices")

	path := writeConfig(t, `
upstream:
  base_url: https://api.example.org/resource/abc
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Upstream.APIKey != "env-key" {
		t.Errorf("expected api key from env, got %q", cfg.Upstream.APIKey)
	}
	if cfg.Postgres.DSN != "postgres://env:env@db:5432/prices" {
		t.Errorf("expected dsn from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoadConfig_FileBeatsEnv(t *testing.T) {
	t.Setenv("DATA_GOV_API_KEY", "env-key")

	path := writeConfig(t, `
upstream:
  base_url: https://api.example.org/resource/abc
  api_key: file-key
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Upstream.APIKey != "file-key" {
		t.Errorf("expected file value to win, got %q", cfg.Upstream.APIKey)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "upstream: [not a map")

	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("expected parse error, got %v", err)
	}
}
