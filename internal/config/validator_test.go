package config

import (
	"strings"
	"testing"
	"time"
)

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero queue capacity", func(c *Config) { c.Queue.Capacity = 0 }, "queue.capacity"},
		{"zero max retries", func(c *Config) { c.Queue.MaxRetries = 0 }, "queue.max_retries"},
		{"zero lease ttl", func(c *Config) { c.Ledger.LeaseTTL = 0 }, "ledger.lease_ttl"},
		{"zero ledger sweep", func(c *Config) { c.Ledger.SweepInterval = 0 }, "ledger.sweep_interval"},
		{"negative reserve wait", func(c *Config) { c.Ledger.ReserveWait = -time.Second }, "ledger.reserve_wait"},
		{"reserve wait past lease", func(c *Config) { c.Ledger.ReserveWait = c.Ledger.LeaseTTL }, "ledger.reserve_wait"},
		{"zero threshold", func(c *Config) { c.Quorum.Threshold = 0 }, "quorum.threshold"},
		{"threshold above one", func(c *Config) { c.Quorum.Threshold = 1.5 }, "quorum.threshold"},
		{"no validators", func(c *Config) { c.Quorum.Validators = nil }, "quorum.validators"},
		{"blank validator", func(c *Config) { c.Quorum.Validators = []string{"v1", " "} }, "quorum.validators[1]"},
		{"duplicate validator", func(c *Config) { c.Quorum.Validators = []string{"v1", "v1"} }, "quorum.validators[1]"},
		{"zero vote timeout", func(c *Config) { c.Quorum.VoteTimeout = 0 }, "quorum.vote_timeout"},
		{"vote timeout past lease", func(c *Config) { c.Quorum.VoteTimeout = 2 * c.Ledger.LeaseTTL }, "quorum.vote_timeout"},
		{"zero heartbeat timeout", func(c *Config) { c.Registry.HeartbeatTimeout = 0 }, "registry.heartbeat_timeout"},
		{"zero registry sweep", func(c *Config) { c.Registry.SweepInterval = 0 }, "registry.sweep_interval"},
		{"unknown strategy", func(c *Config) { c.Registry.Strategy = "random" }, "registry.strategy"},
		{"no scheduler workers", func(c *Config) { c.Engine.SchedulerWorkers = 0 }, "engine.scheduler_workers"},
		{"zero poll interval", func(c *Config) { c.Engine.PollInterval = 0 }, "engine.poll_interval"},
		{"zero max execution time", func(c *Config) { c.Engine.MaxExecutionTime = 0 }, "engine.max_execution_time"},
		{"zero cancel timeout", func(c *Config) { c.Engine.CancelTimeout = 0 }, "engine.cancel_timeout"},
		{"zero proposal retention", func(c *Config) { c.Engine.ProposalRetention = 0 }, "engine.proposal_retention"},
		{"blank gated type", func(c *Config) { c.Engine.ProofGatedTypes = []string{""} }, "engine.proof_gated_types[0]"},
		{"unknown proof validator", func(c *Config) { c.Engine.ProofValidator = "zk" }, "engine.proof_validator"},
		{"zero max concurrent", func(c *Config) { c.Executor.MaxConcurrent = 0 }, "executor.max_concurrent"},
		{"unknown handler", func(c *Config) { c.Executor.Handler = "shell" }, "executor.handler"},
		{"sleep handler without duration", func(c *Config) {
			c.Executor.Handler = "sleep"
			c.Executor.Sleep = 0
		}, "executor.sleep"},
		{"heartbeat slower than timeout", func(c *Config) { c.Executor.HeartbeatInterval = time.Minute }, "executor.heartbeat_interval"},
		{"listen without port", func(c *Config) { c.API.Listen = "localhost" }, "api.listen"},
		{"server without scheme", func(c *Config) { c.API.Server = "localhost:7450" }, "api.server"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"negative log size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "logging.max_size_mb"},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"resource without id", func(c *Config) {
			c.Resources = []ResourceSpec{{Type: "gpu", Capacity: 1}}
		}, "resources[0].id"},
		{"duplicate resource", func(c *Config) {
			c.Resources = []ResourceSpec{{ID: "r", Type: "gpu", Capacity: 1}, {ID: "r", Type: "cpu", Capacity: 1}}
		}, "resources[1].id"},
		{"unknown resource type", func(c *Config) {
			c.Resources = []ResourceSpec{{ID: "r", Type: "tpu", Capacity: 1}}
		}, "resources[0].type"},
		{"zero resource capacity", func(c *Config) {
			c.Resources = []ResourceSpec{{ID: "r", Type: "gpu"}}
		}, "resources[0].capacity"},
		{"worker without id", func(c *Config) { c.Workers = []WorkerSpec{{}} }, "workers[0].id"},
		{"duplicate worker", func(c *Config) { c.Workers = []WorkerSpec{{ID: "w"}, {ID: "w"}} }, "workers[1].id"},
		{"unknown worker capacity type", func(c *Config) {
			c.Workers = []WorkerSpec{{ID: "w", Capacity: map[string]uint64{"tpu": 1}}}
		}, "workers[0].capacity.tpu"},
		{"bad capability pattern", func(c *Config) {
			c.Workers = []WorkerSpec{{ID: "w", Capabilities: []string{"render.[a-"}}}
		}, "workers[0].capabilities[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_AcceptsValidValues(t *testing.T) {
	cfg := Default()
	cfg.Quorum.Threshold = 1
	cfg.Ledger.ReserveWait = 0
	cfg.Registry.Strategy = "first-fit"
	cfg.Engine.ProofValidator = "Digest"
	cfg.Engine.ProofGatedTypes = []string{"render"}
	cfg.Executor.Handler = "sleep"
	cfg.Logging.Level = "DEBUG"
	cfg.API.Listen = ""
	cfg.Resources = []ResourceSpec{
		{ID: "gpu-pool", Type: "gpu", Capacity: 8},
		{ID: "cpu-pool", Type: "cpu", Capacity: 64},
	}
	cfg.Workers = []WorkerSpec{
		{ID: "w1", Capabilities: []string{"render.*", "encode"}, Capacity: map[string]uint64{"gpu": 4, "cpu": 16}},
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Queue.Capacity = 0
	cfg.Quorum.Threshold = 2
	cfg.Registry.Strategy = "random"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}

func TestValidLists(t *testing.T) {
	lists := map[string][]string{
		"log levels":       ValidLogLevels(),
		"strategies":       ValidStrategies(),
		"resource types":   ValidResourceTypes(),
		"proof validators": ValidProofValidators(),
		"handlers":         ValidHandlers(),
	}
	for name, list := range lists {
		if len(list) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}
