package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "quorum.threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStrategies returns the worker ranking strategies
func ValidStrategies() []string {
	return []string{"least-loaded", "most-headroom", "first-fit"}
}

// ValidResourceTypes returns the resource types the ledger understands
func ValidResourceTypes() []string {
	return []string{"cpu", "memory", "gpu", "storage"}
}

// ValidProofValidators returns the proof validators that can gate tasks
func ValidProofValidators() []string {
	return []string{"accept-all", "structural", "digest"}
}

// ValidHandlers returns the built-in executor handlers
func ValidHandlers() []string {
	return []string{"echo", "sleep"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateLedger()...)
	errors = append(errors, c.validateQuorum()...)
	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateResources()...)
	errors = append(errors, c.validateWorkers()...)

	return errors
}

func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError

	if c.Queue.Capacity <= 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.capacity",
			Value:   c.Queue.Capacity,
			Message: "must be positive",
		})
	}
	if c.Queue.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_retries",
			Value:   c.Queue.MaxRetries,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLedger() []ValidationError {
	var errors []ValidationError

	if c.Ledger.LeaseTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ledger.lease_ttl",
			Value:   c.Ledger.LeaseTTL,
			Message: "must be positive",
		})
	}
	if c.Ledger.SweepInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ledger.sweep_interval",
			Value:   c.Ledger.SweepInterval,
			Message: "must be positive",
		})
	}
	if c.Ledger.ReserveWait < 0 {
		errors = append(errors, ValidationError{
			Field:   "ledger.reserve_wait",
			Value:   c.Ledger.ReserveWait,
			Message: "must be non-negative",
		})
	}
	// A wait that outlives the lease would hand out reservations that are
	// already expired.
	if c.Ledger.LeaseTTL > 0 && c.Ledger.ReserveWait >= c.Ledger.LeaseTTL {
		errors = append(errors, ValidationError{
			Field:   "ledger.reserve_wait",
			Value:   c.Ledger.ReserveWait,
			Message: fmt.Sprintf("must be shorter than ledger.lease_ttl (%s)", c.Ledger.LeaseTTL),
		})
	}

	return errors
}

func (c *Config) validateQuorum() []ValidationError {
	var errors []ValidationError

	if c.Quorum.Threshold <= 0 || c.Quorum.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "quorum.threshold",
			Value:   c.Quorum.Threshold,
			Message: "must be in (0, 1]",
		})
	}
	if len(c.Quorum.Validators) == 0 {
		errors = append(errors, ValidationError{
			Field:   "quorum.validators",
			Value:   c.Quorum.Validators,
			Message: "at least one validator is required",
		})
	}
	seen := make(map[string]bool, len(c.Quorum.Validators))
	for i, id := range c.Quorum.Validators {
		field := fmt.Sprintf("quorum.validators[%d]", i)
		if strings.TrimSpace(id) == "" {
			errors = append(errors, ValidationError{Field: field, Value: id, Message: "must not be empty"})
			continue
		}
		if seen[id] {
			errors = append(errors, ValidationError{Field: field, Value: id, Message: "duplicate validator"})
		}
		seen[id] = true
	}
	if c.Quorum.VoteTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "quorum.vote_timeout",
			Value:   c.Quorum.VoteTimeout,
			Message: "must be positive",
		})
	}
	// A lease that lapses mid-vote loses the reservation being voted on.
	if c.Quorum.VoteTimeout > 0 && c.Ledger.LeaseTTL > 0 && c.Quorum.VoteTimeout >= c.Ledger.LeaseTTL {
		errors = append(errors, ValidationError{
			Field:   "quorum.vote_timeout",
			Value:   c.Quorum.VoteTimeout,
			Message: fmt.Sprintf("must be shorter than ledger.lease_ttl (%s)", c.Ledger.LeaseTTL),
		})
	}

	return errors
}

func (c *Config) validateRegistry() []ValidationError {
	var errors []ValidationError

	if c.Registry.HeartbeatTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "registry.heartbeat_timeout",
			Value:   c.Registry.HeartbeatTimeout,
			Message: "must be positive",
		})
	}
	if c.Registry.SweepInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "registry.sweep_interval",
			Value:   c.Registry.SweepInterval,
			Message: "must be positive",
		})
	}
	if !slices.Contains(ValidStrategies(), c.Registry.Strategy) {
		errors = append(errors, ValidationError{
			Field:   "registry.strategy",
			Value:   c.Registry.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStrategies(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	if c.Engine.SchedulerWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "engine.scheduler_workers",
			Value:   c.Engine.SchedulerWorkers,
			Message: "must be at least 1",
		})
	}

	durations := []struct {
		field string
		value any
		ok    bool
	}{
		{"engine.poll_interval", c.Engine.PollInterval, c.Engine.PollInterval > 0},
		{"engine.max_execution_time", c.Engine.MaxExecutionTime, c.Engine.MaxExecutionTime > 0},
		{"engine.cancel_timeout", c.Engine.CancelTimeout, c.Engine.CancelTimeout > 0},
		{"engine.proposal_retention", c.Engine.ProposalRetention, c.Engine.ProposalRetention > 0},
	}
	for _, d := range durations {
		if !d.ok {
			errors = append(errors, ValidationError{Field: d.field, Value: d.value, Message: "must be positive"})
		}
	}

	for i, typ := range c.Engine.ProofGatedTypes {
		if strings.TrimSpace(typ) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("engine.proof_gated_types[%d]", i),
				Value:   typ,
				Message: "must not be empty",
			})
		}
	}
	if !slices.Contains(ValidProofValidators(), strings.ToLower(c.Engine.ProofValidator)) {
		errors = append(errors, ValidationError{
			Field:   "engine.proof_validator",
			Value:   c.Engine.ProofValidator,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidProofValidators(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_concurrent",
			Value:   c.Executor.MaxConcurrent,
			Message: "must be at least 1",
		})
	}
	if !slices.Contains(ValidHandlers(), c.Executor.Handler) {
		errors = append(errors, ValidationError{
			Field:   "executor.handler",
			Value:   c.Executor.Handler,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidHandlers(), ", ")),
		})
	}
	if c.Executor.Handler == "sleep" && c.Executor.Sleep <= 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.sleep",
			Value:   c.Executor.Sleep,
			Message: "must be positive when executor.handler is sleep",
		})
	}
	if c.Executor.HeartbeatInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.heartbeat_interval",
			Value:   c.Executor.HeartbeatInterval,
			Message: "must be positive",
		})
	} else if c.Registry.HeartbeatTimeout > 0 && c.Executor.HeartbeatInterval >= c.Registry.HeartbeatTimeout {
		errors = append(errors, ValidationError{
			Field:   "executor.heartbeat_interval",
			Value:   c.Executor.HeartbeatInterval,
			Message: fmt.Sprintf("must be shorter than registry.heartbeat_timeout (%s)", c.Registry.HeartbeatTimeout),
		})
	}

	return errors
}

func (c *Config) validateAPI() []ValidationError {
	var errors []ValidationError

	if c.API.Listen != "" {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			errors = append(errors, ValidationError{
				Field:   "api.listen",
				Value:   c.API.Listen,
				Message: "must be host:port",
			})
		}
	}
	if c.API.Server != "" {
		u, err := url.Parse(c.API.Server)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "api.server",
				Value:   c.API.Server,
				Message: "must be an http or https URL",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateResources() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		prefix := fmt.Sprintf("resources[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			errors = append(errors, ValidationError{Field: prefix + ".id", Value: r.ID, Message: "must not be empty"})
		} else if seen[r.ID] {
			errors = append(errors, ValidationError{Field: prefix + ".id", Value: r.ID, Message: "duplicate resource"})
		}
		seen[r.ID] = true

		if !slices.Contains(ValidResourceTypes(), r.Type) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".type",
				Value:   r.Type,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidResourceTypes(), ", ")),
			})
		}
		if r.Capacity == 0 {
			errors = append(errors, ValidationError{Field: prefix + ".capacity", Value: r.Capacity, Message: "must be positive"})
		}
	}

	return errors
}

func (c *Config) validateWorkers() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		prefix := fmt.Sprintf("workers[%d]", i)
		if strings.TrimSpace(w.ID) == "" {
			errors = append(errors, ValidationError{Field: prefix + ".id", Value: w.ID, Message: "must not be empty"})
		} else if seen[w.ID] {
			errors = append(errors, ValidationError{Field: prefix + ".id", Value: w.ID, Message: "duplicate worker"})
		}
		seen[w.ID] = true

		for typ := range w.Capacity {
			if !slices.Contains(ValidResourceTypes(), typ) {
				errors = append(errors, ValidationError{
					Field:   prefix + ".capacity." + typ,
					Value:   typ,
					Message: fmt.Sprintf("unknown resource type, must be one of: %s", strings.Join(ValidResourceTypes(), ", ")),
				})
			}
		}
		for j, pattern := range w.Capabilities {
			field := fmt.Sprintf("%s.capabilities[%d]", prefix, j)
			if strings.TrimSpace(pattern) == "" {
				errors = append(errors, ValidationError{Field: field, Value: pattern, Message: "must not be empty"})
				continue
			}
			if _, err := glob.Compile(pattern); err != nil {
				errors = append(errors, ValidationError{
					Field:   field,
					Value:   pattern,
					Message: fmt.Sprintf("invalid capability pattern: %v", err),
				})
			}
		}
	}

	return errors
}
