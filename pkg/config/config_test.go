package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SkipVerifyAndDownloads {
		t.Fatalf("expected default SkipVerifyAndDownloads=false")
	}
	limits := cfg.Limits()
	if limits.CPUHeavyConcurrency < 1 {
		t.Fatalf("expected default limits to be populated, got %+v", limits)
	}
}

func TestLoadParsesSkipKindsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoolamike.yaml")
	contents := []byte(`
skip_verify_and_downloads: true
skip_kinds: [transformed-texture, create-bsa]
concurrency:
  cpu_heavy: 3
disk_budget_bytes: 1024
variables:
  GAME_PATH: /games/skyrim
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.SkipVerifyAndDownloads {
		t.Fatalf("expected SkipVerifyAndDownloads=true")
	}

	opts, err := cfg.PlannerOptions()
	if err != nil {
		t.Fatalf("PlannerOptions: %v", err)
	}
	if len(opts.SkipKinds) != 2 {
		t.Fatalf("expected 2 skip kinds, got %d", len(opts.SkipKinds))
	}

	limits := cfg.Limits()
	if limits.CPUHeavyConcurrency != 3 {
		t.Fatalf("expected cpu_heavy override 3, got %d", limits.CPUHeavyConcurrency)
	}
	if limits.DiskBudgetBytes != 1024 {
		t.Fatalf("expected disk budget override 1024, got %d", limits.DiskBudgetBytes)
	}

	if cfg.VariableTable()["GAME_PATH"] != "/games/skyrim" {
		t.Fatalf("expected GAME_PATH variable, got %v", cfg.VariableTable())
	}
}

func TestLoadUnknownSkipKindFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoolamike.yaml")
	if err := os.WriteFile(path, []byte("skip_kinds: [not-a-real-kind]\n"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.PlannerOptions(); err == nil {
		t.Fatalf("expected error for unknown skip kind")
	}
}
