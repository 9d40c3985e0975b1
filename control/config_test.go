package control_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-flow/api"
	"github.com/momentics/hioload-flow/control"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := control.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if got := cfg.EffectiveHeartbeat(); got != cfg.LivenessTimeout/4 {
		t.Errorf("heartbeat = %v", got)
	}
	cfg.HeartbeatInterval = -1
	if got := cfg.EffectiveHeartbeat(); got != 0 {
		t.Errorf("disabled heartbeat = %v", got)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	body := []byte(`
num_workers: 3
liveness_timeout: 750ms
max_fragments_per_poll: 16
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIOLOAD_FLOW_BACKOFF_BUDGET", "250ms")

	cfg, err := control.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumWorkers != 3 || cfg.MaxFragmentsPerPoll != 16 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LivenessTimeout != 750*time.Millisecond {
		t.Errorf("liveness_timeout = %v", cfg.LivenessTimeout)
	}
	if cfg.BackoffBudget != 250*time.Millisecond {
		t.Errorf("env override not applied: %v", cfg.BackoffBudget)
	}
	if cfg.MaxFramesPerTick != 64 || cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := control.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TaskQueueCapacity != 4096 {
		t.Errorf("task_queue_capacity = %d", cfg.TaskQueueCapacity)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*control.Config){
		"workers":   func(c *control.Config) { c.NumWorkers = 0 },
		"segment":   func(c *control.Config) { c.SegmentSize = -1 },
		"liveness":  func(c *control.Config) { c.LivenessTimeout = 0 },
		"budget":    func(c *control.Config) { c.BackoffBudget = -time.Second },
		"fragments": func(c *control.Config) { c.MaxFragmentsPerPoll = 0 },
		"demand":    func(c *control.Config) { c.MaxDemand = 0 },
		"level":     func(c *control.Config) { c.Log.Level = "verbose" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := control.Default()
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, api.ErrInvalidArgument) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
