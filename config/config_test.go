package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wacker-lab/ampsched/execer"
	"github.com/wacker-lab/ampsched/sched"
)

func TestLoadEmptyPathKeepsDefaults(t *testing.T) {
	base := sched.DefaultConfig()
	cfg, err := Load("", base)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != base {
		t.Fatalf("config changed without a file: %+v", cfg)
	}
}

func TestLoadOverlaysOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ampsched.yaml")
	body := "max_workers: 2\nper_job_ceiling_bytes: 1000000\npoll_interval: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0666); err != nil {
		t.Fatal(err)
	}

	base := sched.DefaultConfig()
	cfg, err := Load(path, base)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxWorkers != 2 {
		t.Fatalf("MaxWorkers = %d", cfg.MaxWorkers)
	}
	if cfg.PerJobCeiling != execer.Memory(1000000) {
		t.Fatalf("PerJobCeiling = %v", cfg.PerJobCeiling)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v", cfg.PollInterval)
	}
	// Untouched fields keep defaults.
	if cfg.MinAvailable != base.MinAvailable || cfg.OverallDeadline != base.OverallDeadline {
		t.Fatalf("defaults clobbered: %+v", cfg)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: soonish\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, sched.DefaultConfig()); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neg.yaml")
	if err := os.WriteFile(path, []byte("max_workers: -3\n"), 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, sched.DefaultConfig()); err == nil {
		t.Fatal("expected validation error")
	}
}
