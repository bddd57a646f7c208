package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to write a tmp YAML file and return its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SbatchBin != "sbatch" {
		t.Errorf("SbatchBin = %q, want sbatch", cfg.SbatchBin)
	}
	if cfg.SingularityBin != "singularity" {
		t.Errorf("SingularityBin = %q, want singularity", cfg.SingularityBin)
	}
	if cfg.LivenessWindow != 60*time.Second {
		t.Errorf("LivenessWindow = %v, want 60s", cfg.LivenessWindow)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.TriggerPartition != "cpu" {
		t.Errorf("TriggerPartition = %q, want cpu", cfg.TriggerPartition)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
sbatch_bin: /usr/local/bin/sbatch
liveness_window: 90s
poll_interval: 5s
trigger_partition: cpu-large
virtualenv: /opt/venv
log:
  level: debug
  file:
    enabled: true
    path: /var/log/strix.log
    max_size_mb: 10
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SbatchBin != "/usr/local/bin/sbatch" {
		t.Errorf("SbatchBin = %q", cfg.SbatchBin)
	}
	if cfg.LivenessWindow != 90*time.Second {
		t.Errorf("LivenessWindow = %v, want 90s", cfg.LivenessWindow)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.TriggerPartition != "cpu-large" {
		t.Errorf("TriggerPartition = %q", cfg.TriggerPartition)
	}
	if cfg.Virtualenv != "/opt/venv" {
		t.Errorf("Virtualenv = %q", cfg.Virtualenv)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.Log.File.Enabled || cfg.Log.File.Path != "/var/log/strix.log" {
		t.Errorf("Log.File = %+v", cfg.Log.File)
	}
	if cfg.Log.File.MaxSizeMB != 10 {
		t.Errorf("Log.File.MaxSizeMB = %d, want 10", cfg.Log.File.MaxSizeMB)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero liveness window", "liveness_window: 0s"},
		{"negative poll interval", "poll_interval: -1s"},
		{"empty sbatch bin", `sbatch_bin: ""`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTmpConfig(t, tc.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
