package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Download.TaskConcurrency != 10 {
		t.Errorf("task_concurrency = %d, want 10", cfg.Download.TaskConcurrency)
	}
	if cfg.Download.ResolverConcurrency != 3 {
		t.Errorf("resolver_concurrency = %d, want 3", cfg.Download.ResolverConcurrency)
	}
	if cfg.Download.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Download.MaxRetries)
	}
	if cfg.Pacing.MinDelay != 5*time.Second || cfg.Pacing.MaxDelay != 15*time.Second {
		t.Errorf("pacing = %v..%v, want 5s..15s", cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q, want sqlite", cfg.Database.Driver)
	}
	if len(cfg.Extract.Formats) != 1 || cfg.Extract.Formats[0] != "epub" {
		t.Errorf("extract.formats = %v, want [epub]", cfg.Extract.Formats)
	}
}

// loadFromDir runs Load from inside an empty temp dir so no stray
// config.yaml from the working tree leaks into the test.
func loadFromDir(t *testing.T, configPath string) (*Config, error) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
	return Load(configPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
download:
  task_concurrency: 4
  resolver_concurrency: 2
  max_retries: 1
  retry_backoff: 2s
pacing:
  min_delay: 1s
  max_delay: 3s
extract:
  formats: [epub, azw3]
  keep_zip: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Download.TaskConcurrency != 4 {
		t.Errorf("task_concurrency = %d, want 4", cfg.Download.TaskConcurrency)
	}
	if cfg.Download.RetryBackoff != 2*time.Second {
		t.Errorf("retry_backoff = %v, want 2s", cfg.Download.RetryBackoff)
	}
	if len(cfg.Extract.Formats) != 2 {
		t.Errorf("extract.formats = %v, want two entries", cfg.Extract.Formats)
	}
	if !cfg.Extract.KeepZip {
		t.Error("extract.keep_zip = false, want true")
	}
	// Unset keys still fall back to defaults.
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q, want default sqlite", cfg.Database.Driver)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Download: DownloadConfig{TaskConcurrency: 2, ResolverConcurrency: 1, MaxRetries: 0},
			Pacing:   PacingConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero task concurrency", mutate: func(c *Config) { c.Download.TaskConcurrency = 0 }, wantErr: true},
		{name: "zero resolver concurrency", mutate: func(c *Config) { c.Download.ResolverConcurrency = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Download.MaxRetries = -1 }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.Pacing.MinDelay = -time.Second }, wantErr: true},
		{name: "inverted delays", mutate: func(c *Config) { c.Pacing.MinDelay = 3 * time.Second }, wantErr: true},
		{name: "zero delays allowed", mutate: func(c *Config) { c.Pacing.MinDelay = 0; c.Pacing.MaxDelay = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/state.db"}
	if got := sqlite.DSN(); got != "./data/state.db" {
		t.Errorf("sqlite DSN = %q", got)
	}

	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "book", Password: "secret", Name: "bookhaul", SSLMode: "disable",
	}
	want := "host=db port=5432 user=book password=secret dbname=bookhaul sslmode=disable"
	if got := pg.DSN(); got != want {
		t.Errorf("postgres DSN = %q, want %q", got, want)
	}
}

func TestCatalogPath(t *testing.T) {
	cfg := &Config{
		Download: DownloadConfig{DataDir: "/var/lib/bookhaul"},
		Catalog:  CatalogConfig{File: "all-books.json"},
	}
	if got := cfg.CatalogPath(); got != filepath.Join("/var/lib/bookhaul", "all-books.json") {
		t.Errorf("CatalogPath() = %q", got)
	}

	cfg.Catalog.File = "/abs/books.json"
	if got := cfg.CatalogPath(); got != "/abs/books.json" {
		t.Errorf("absolute CatalogPath() = %q", got)
	}
}
