package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_SpecBudgets(t *testing.T) {
	cfg := Default()

	if cfg.Sandbox.VCPUs != 1 {
		t.Errorf("expected 1 vCPU, got %v", cfg.Sandbox.VCPUs)
	}
	if cfg.Sandbox.MemoryBytes != 2<<30 {
		t.Errorf("expected 2 GiB memory cap, got %d", cfg.Sandbox.MemoryBytes)
	}
	if cfg.Sandbox.WallClock != 300*time.Second {
		t.Errorf("expected 300s wall clock, got %v", cfg.Sandbox.WallClock)
	}
	if cfg.Timeouts.Ingest != 120*time.Second {
		t.Errorf("expected 120s ingest timeout, got %v", cfg.Timeouts.Ingest)
	}
	if cfg.Timeouts.Static != 30*time.Second {
		t.Errorf("expected 30s static timeout, got %v", cfg.Timeouts.Static)
	}
	if cfg.Timeouts.Dynamic != 300*time.Second {
		t.Errorf("expected 300s dynamic timeout, got %v", cfg.Timeouts.Dynamic)
	}
	if cfg.Timeouts.Synthesis != 2*time.Second {
		t.Errorf("expected 2s synthesis timeout, got %v", cfg.Timeouts.Synthesis)
	}
	if cfg.Timeouts.Stream != 5*time.Second {
		t.Errorf("expected 5s stream timeout, got %v", cfg.Timeouts.Stream)
	}
	if cfg.PatternRules.Timeout != 25*time.Second {
		t.Errorf("expected 25s pattern scan cap, got %v", cfg.PatternRules.Timeout)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yaml")
	yamlDoc := `
postgres:
  dsn: "postgres://vigil@localhost/vigil"
  max_conns: 10
sandbox:
  backend: "microvm"
threat_intel:
  feeds:
    - url: "https://example.test/feed.csv"
      format: "csv"
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://vigil@localhost/vigil" {
		t.Errorf("expected DSN to be overlaid, got %q", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 10 {
		t.Errorf("expected max_conns 10, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Sandbox.Backend != "microvm" {
		t.Errorf("expected backend 'microvm', got %q", cfg.Sandbox.Backend)
	}
	// Defaults not present in the YAML doc must survive the overlay.
	if cfg.Sandbox.WallClock != 300*time.Second {
		t.Errorf("expected default wall clock to survive overlay, got %v", cfg.Sandbox.WallClock)
	}
	if len(cfg.ThreatIntel.Feeds) != 1 || cfg.ThreatIntel.Feeds[0].URL != "https://example.test/feed.csv" {
		t.Errorf("expected one threat intel feed, got %+v", cfg.ThreatIntel.Feeds)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("postgres: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for invalid YAML")
	}
}
