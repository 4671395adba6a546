package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "test" {
		t.Fatalf("expected app name from file, got %q", cfg.App.Name)
	}
	if cfg.Reconcile.TTL != 24*time.Hour {
		t.Fatalf("expected default ttl 24h, got %s", cfg.Reconcile.TTL)
	}
	if cfg.Reconcile.Concurrency != 4 || cfg.Reconcile.SampleBound != 20 {
		t.Fatalf("unexpected reconcile defaults: %+v", cfg.Reconcile)
	}
	if cfg.Source.SearchPath != "/api/sold" {
		t.Fatalf("unexpected search path %q", cfg.Source.SearchPath)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
source:
  base_url: https://sold.example.com
  timeout: 3s
reconcile:
  ttl: 6h
  concurrency: 8
scheduler:
  cron: "*/10 * * * *"
`)
	t.Setenv("MARKETINTEL_RECONCILE_SAMPLE_BOUND", "50")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Source.BaseURL != "https://sold.example.com" || cfg.Source.Timeout != 3*time.Second {
		t.Fatalf("unexpected source config: %+v", cfg.Source)
	}
	if cfg.Reconcile.TTL != 6*time.Hour || cfg.Reconcile.Concurrency != 8 {
		t.Fatalf("unexpected reconcile config: %+v", cfg.Reconcile)
	}
	if cfg.Reconcile.SampleBound != 50 {
		t.Fatalf("expected env override for sample bound, got %d", cfg.Reconcile.SampleBound)
	}
	if cfg.Scheduler.Cron != "*/10 * * * *" {
		t.Fatalf("unexpected cron %q", cfg.Scheduler.Cron)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Interval: time.Minute},
			Source:    SourceConfig{BaseURL: "http://localhost"},
			Reconcile: ReconcileConfig{Concurrency: 1, SampleBound: 1, BatchSize: 1},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero ttl allowed", mutate: func(c *Config) { c.Reconcile.TTL = 0 }},
		{name: "negative ttl", mutate: func(c *Config) { c.Reconcile.TTL = -time.Second }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Reconcile.Concurrency = 0 }, wantErr: true},
		{name: "zero sample bound", mutate: func(c *Config) { c.Reconcile.SampleBound = 0 }, wantErr: true},
		{name: "missing base url", mutate: func(c *Config) { c.Source.BaseURL = " " }, wantErr: true},
		{name: "bad cron", mutate: func(c *Config) { c.Scheduler.Cron = "every day" }, wantErr: true},
		{name: "cron without interval", mutate: func(c *Config) {
			c.Scheduler.Interval = 0
			c.Scheduler.Cron = "0 * * * *"
		}},
		{name: "no interval", mutate: func(c *Config) { c.Scheduler.Interval = 0 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(7); got != 7 {
		t.Fatalf("expected override, got %d", got)
	}
}
