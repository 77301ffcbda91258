package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Optimization.CoolOff != 24*time.Hour {
		t.Fatalf("cool_off=%s want=24h", cfg.Optimization.CoolOff)
	}
	if cfg.Store.Backend != "postgres" {
		t.Fatalf("store.backend=%q want=postgres", cfg.Store.Backend)
	}
	if cfg.Lock.Backend != "local" {
		t.Fatalf("lock.backend=%q want=local", cfg.Lock.Backend)
	}
	if cfg.Cron.SettlePending != "@every 30s" {
		t.Fatalf("cron.settle_pending=%q", cfg.Cron.SettlePending)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("optimization:\n  cool_off: 2h\nmarket:\n  always_open: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("IC_OPTIMIZATION_APPLY_MODE", "trades")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Optimization.CoolOff != 2*time.Hour {
		t.Fatalf("cool_off=%s want=2h", cfg.Optimization.CoolOff)
	}
	if !cfg.Market.AlwaysOpen {
		t.Fatalf("always_open=false want=true")
	}
	if cfg.Optimization.ApplyMode != "trades" {
		t.Fatalf("apply_mode=%q want=trades", cfg.Optimization.ApplyMode)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
