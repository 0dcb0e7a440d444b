package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Model != "claude-sonnet-4-5" || cfg.Agent.MaxIterations != 50 {
		t.Errorf("defaults not applied: %+v", cfg.Agent)
	}
	if cfg.Gateway.Addr != ":8420" {
		t.Errorf("gateway addr = %q", cfg.Gateway.Addr)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"agent": {"model": "gpt-5.2", "provider": "openai", "max_iterations": 10},
		"health": {"stall_timeout_seconds": 300},
		"gateway": {"addr": ":9000"},
		"telemetry": {"enabled": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Model != "gpt-5.2" || cfg.Agent.Provider != "openai" || cfg.Agent.MaxIterations != 10 {
		t.Errorf("agent overrides lost: %+v", cfg.Agent)
	}
	if cfg.Gateway.Addr != ":9000" {
		t.Errorf("gateway addr = %q", cfg.Gateway.Addr)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("telemetry enable lost")
	}
	// Untouched sections keep their defaults.
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("telemetry endpoint = %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Health.StallTimeout() != 5*time.Minute {
		t.Errorf("stall timeout = %s", cfg.Health.StallTimeout())
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid json should error")
	}
}

func TestHealthDurationHelpers(t *testing.T) {
	var h HealthConfig
	if h.SlowResponseThreshold() != 0 || h.StallTimeout() != 0 {
		t.Error("unset thresholds should be zero")
	}
	h.SlowResponseSeconds = 45
	if h.SlowResponseThreshold() != 45*time.Second {
		t.Errorf("slow response = %s", h.SlowResponseThreshold())
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"gateway":{"addr":":9000"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 1)
	w, err := Watch(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"gateway":{"addr":":9100"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Gateway.Addr != ":9100" {
			t.Errorf("reloaded addr = %q", cfg.Gateway.Addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan Config, 1)
	w, err := Watch(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("sibling file write should not trigger a reload")
	case <-time.After(1 * time.Second):
	}
}
