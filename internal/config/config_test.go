package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Analyzer.BatchSize != 20 {
		t.Fatalf("unexpected default batch size: %d", cfg.Analyzer.BatchSize)
	}
	if cfg.Analyzer.DefaultConfidence != 25 {
		t.Fatalf("unexpected default confidence: %d", cfg.Analyzer.DefaultConfidence)
	}
	if cfg.Analysis.Timeout() != 30*time.Second {
		t.Fatalf("unexpected analysis timeout: %s", cfg.Analysis.Timeout())
	}
	if cfg.Scheduler.Interval() != 6*time.Hour {
		t.Fatalf("unexpected scheduler interval: %s", cfg.Scheduler.Interval())
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
analyzer:
  batchSize: 15
  batchDelayMs: 500
analysis:
  model: file-model
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(analysisModelEnv, "env-model")
	t.Setenv(databaseDSNEnv, "postgres://env/db")

	cfg := Load()

	if cfg.Analyzer.BatchSize != 15 {
		t.Fatalf("file override lost: %d", cfg.Analyzer.BatchSize)
	}
	if cfg.Analyzer.BatchDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected batch delay: %s", cfg.Analyzer.BatchDelay())
	}
	if cfg.Analysis.Model != "env-model" {
		t.Fatalf("env must win over file: %s", cfg.Analysis.Model)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("env DSN lost: %s", cfg.Database.DSN)
	}
}

func TestLoadClampsBatchSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("analyzer:\n  batchSize: 500\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Analyzer.BatchSize != 20 {
		t.Fatalf("out-of-range batch size must revert to default, got %d", cfg.Analyzer.BatchSize)
	}
}
