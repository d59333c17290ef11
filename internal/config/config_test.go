package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Queue.Capacity != 10000 {
		t.Errorf("Queue.Capacity = %d, want 10000", cfg.Queue.Capacity)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Queue.MaxRetries = %d, want 3", cfg.Queue.MaxRetries)
	}
	if cfg.Ledger.LeaseTTL != 60*time.Second {
		t.Errorf("Ledger.LeaseTTL = %v, want 60s", cfg.Ledger.LeaseTTL)
	}
	if cfg.Quorum.Threshold != 0.67 {
		t.Errorf("Quorum.Threshold = %v, want 0.67", cfg.Quorum.Threshold)
	}
	if len(cfg.Quorum.Validators) != 3 {
		t.Errorf("Quorum.Validators = %v, want 3 validators", cfg.Quorum.Validators)
	}
	if !cfg.Quorum.AutoVote {
		t.Error("Quorum.AutoVote should be true by default")
	}
	if cfg.Registry.HeartbeatTimeout != 30*time.Second {
		t.Errorf("Registry.HeartbeatTimeout = %v, want 30s", cfg.Registry.HeartbeatTimeout)
	}
	if cfg.Registry.Strategy != "least-loaded" {
		t.Errorf("Registry.Strategy = %q, want least-loaded", cfg.Registry.Strategy)
	}
	if cfg.Engine.SchedulerWorkers != 4 {
		t.Errorf("Engine.SchedulerWorkers = %d, want 4", cfg.Engine.SchedulerWorkers)
	}
	if cfg.Audit.Enabled {
		t.Error("Audit.Enabled should be false by default")
	}
	if len(cfg.Resources) != 0 || len(cfg.Workers) != 0 {
		t.Error("Default config should not declare resources or workers")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/quorum" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/quorum")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "quorum")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/quorum/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestAuditDBPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	a := AuditConfig{}
	if got := a.AuditDBPath(); got != "/custom/config/quorum/audit.db" {
		t.Errorf("AuditDBPath() = %q", got)
	}
	a.DBPath = "/var/lib/quorum/audit.db"
	if got := a.AuditDBPath(); got != a.DBPath {
		t.Errorf("AuditDBPath() = %q, want %q", got, a.DBPath)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Ledger.ReserveWait != 2*time.Second {
		t.Errorf("Get().Ledger.ReserveWait = %v, want 2s", cfg.Ledger.ReserveWait)
	}
}

func loadFile(t *testing.T, content string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	return Load()
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := loadFile(t, `
queue:
  max_retries: 5
ledger:
  reserve_wait: 500ms
quorum:
  threshold: 0.6
  validators: [v1, v2, v3, v4, v5]
  vote_timeout: 3s
registry:
  strategy: most-headroom
engine:
  proof_gated_types: [render]
resources:
  - id: gpu-pool
    type: gpu
    capacity: 8
workers:
  - id: w1
    capabilities: ["render.*"]
    capacity:
      gpu: 4
    endpoint: http://10.0.0.5:9000
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Queue.MaxRetries = %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.Capacity != 10000 {
		t.Errorf("Queue.Capacity = %d, want default 10000", cfg.Queue.Capacity)
	}
	if cfg.Ledger.ReserveWait != 500*time.Millisecond {
		t.Errorf("Ledger.ReserveWait = %v, want 500ms", cfg.Ledger.ReserveWait)
	}
	if cfg.Quorum.VoteTimeout != 3*time.Second || len(cfg.Quorum.Validators) != 5 {
		t.Errorf("Quorum = %+v", cfg.Quorum)
	}
	if cfg.Registry.Strategy != "most-headroom" {
		t.Errorf("Registry.Strategy = %q", cfg.Registry.Strategy)
	}
	if !slices.Equal(cfg.Engine.ProofGatedTypes, []string{"render"}) {
		t.Errorf("Engine.ProofGatedTypes = %v", cfg.Engine.ProofGatedTypes)
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0] != (ResourceSpec{ID: "gpu-pool", Type: "gpu", Capacity: 8}) {
		t.Errorf("Resources = %+v", cfg.Resources)
	}
	if len(cfg.Workers) != 1 {
		t.Fatalf("Workers = %+v", cfg.Workers)
	}
	w := cfg.Workers[0]
	if w.ID != "w1" || w.Capacity["gpu"] != 4 || w.Endpoint != "http://10.0.0.5:9000" {
		t.Errorf("Workers[0] = %+v", w)
	}
	if got := cfg.ResourceIDs(); !slices.Equal(got, []string{"gpu-pool"}) {
		t.Errorf("ResourceIDs() = %v", got)
	}
	if got := cfg.WorkerIDs(); !slices.Equal(got, []string{"w1"}) {
		t.Errorf("WorkerIDs() = %v", got)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := loadFile(t, `
quorum:
  threshold: 1.5
registry:
  strategy: random
`)
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error = %v, want ValidationErrors", err)
	}
	if !hasField(errs, "quorum.threshold") || !hasField(errs, "registry.strategy") {
		t.Errorf("Load() errors = %v", errs)
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	want := Default()
	want.Ledger.ReserveWait = 750 * time.Millisecond
	want.Engine.ProofGatedTypes = []string{"render", "train"}
	want.Resources = []ResourceSpec{{ID: "gpu-pool", Type: "gpu", Capacity: 8}}
	want.Workers = []WorkerSpec{{ID: "w1", Capabilities: []string{"render"}, Capacity: map[string]uint64{"gpu": 2}}}

	data, err := want.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}
	got, err := loadFile(t, string(data))
	if err != nil {
		t.Fatalf("Load() error = %v\n%s", err, data)
	}

	if got.Ledger != want.Ledger || got.Registry != want.Registry || got.API != want.API {
		t.Errorf("round trip changed scalar sections:\n%s", data)
	}
	if got.Quorum.Threshold != want.Quorum.Threshold || !slices.Equal(got.Quorum.Validators, want.Quorum.Validators) {
		t.Errorf("Quorum = %+v, want %+v", got.Quorum, want.Quorum)
	}
	if !slices.Equal(got.Engine.ProofGatedTypes, want.Engine.ProofGatedTypes) {
		t.Errorf("Engine.ProofGatedTypes = %v", got.Engine.ProofGatedTypes)
	}
	if len(got.Resources) != 1 || got.Resources[0] != want.Resources[0] {
		t.Errorf("Resources = %+v", got.Resources)
	}
	if len(got.Workers) != 1 || got.Workers[0].Capacity["gpu"] != 2 {
		t.Errorf("Workers = %+v", got.Workers)
	}
}

func TestRestartRequired(t *testing.T) {
	prev := Default()

	next := Default()
	next.Logging.Level = "debug"
	if got := RestartRequired(prev, next); len(got) != 0 {
		t.Errorf("log level change reported %v", got)
	}

	next.Quorum.Threshold = 0.5
	next.Resources = []ResourceSpec{{ID: "r", Type: "cpu", Capacity: 1}}
	got := RestartRequired(prev, next)
	if !slices.Equal(got, []string{"quorum", "resources"}) {
		t.Errorf("RestartRequired() = %v, want [quorum resources]", got)
	}
}

func TestWatch_AppliesEdits(t *testing.T) {
	if _, err := loadFile(t, "logging:\n  level: info\n"); err != nil {
		t.Fatal(err)
	}

	changes := make(chan *Config, 16)
	errs := make(chan error, 16)
	Watch(func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	// fsnotify may need a moment to register the watch.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(viper.ConfigFileUsed(), []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Truncate and write can arrive as separate events; wait for the final content.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Logging.Level == "debug" {
				return
			}
		case err := <-errs:
			t.Fatalf("reload error = %v", err)
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
