package coordination

import (
	"time"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/logging"
)

// Defaults applied when an option is not given.
const (
	DefaultSchedulerWorkers  = 4
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultMaxExecutionTime  = 5 * time.Minute
	DefaultCancelTimeout     = 30 * time.Second
	DefaultProposalRetention = 10 * time.Minute
)

// engineConfig holds optional configuration for an Engine.
type engineConfig struct {
	schedulerWorkers  int
	pollInterval      time.Duration
	maxExecutionTime  time.Duration
	cancelTimeout     time.Duration
	reserveWait       time.Duration
	proposalRetention time.Duration
	proofGatedTypes   map[string]bool
	validator         Validator
	resolver          AddressResolver
	recorder          audit.Recorder
	logger            *logging.Logger
	now               func() time.Time
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		schedulerWorkers:  DefaultSchedulerWorkers,
		pollInterval:      DefaultPollInterval,
		maxExecutionTime:  DefaultMaxExecutionTime,
		cancelTimeout:     DefaultCancelTimeout,
		proposalRetention: DefaultProposalRetention,
		proofGatedTypes:   make(map[string]bool),
		recorder:          audit.Nop{},
		logger:            logging.NopLogger(),
		now:               time.Now,
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithSchedulerWorkers sets how many goroutines pull tasks from the queue.
// Values <= 0 keep the default.
func WithSchedulerWorkers(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.schedulerWorkers = n
		}
	}
}

// WithPollInterval sets how often idle schedulers re-check the queue.
func WithPollInterval(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxExecutionTime bounds how long the engine waits for a result
// after a worker accepts a task.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.maxExecutionTime = d
		}
	}
}

// WithCancelTimeout bounds how long a post-commit cancellation waits for
// the worker's acknowledgement.
func WithCancelTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.cancelTimeout = d
		}
	}
}

// WithReserveWait lets schedulers wait up to d for resources to be
// released before treating a reservation as failed. Zero fails at once.
func WithReserveWait(d time.Duration) Option {
	return func(c *engineConfig) { c.reserveWait = d }
}

// WithProposalRetention sets how long resolved proposals stay queryable.
func WithProposalRetention(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.proposalRetention = d
		}
	}
}

// WithProofGatedTypes lists task types that must carry a valid proof.
func WithProofGatedTypes(types ...string) Option {
	return func(c *engineConfig) {
		for _, t := range types {
			c.proofGatedTypes[t] = true
		}
	}
}

// WithValidator sets the proof validator for gated task types.
func WithValidator(v Validator) Option {
	return func(c *engineConfig) { c.validator = v }
}

// WithAddressResolver overrides how worker addresses are resolved. By
// default the worker's registered endpoint is used.
func WithAddressResolver(r AddressResolver) Option {
	return func(c *engineConfig) { c.resolver = r }
}

// WithRecorder sets the audit journal.
func WithRecorder(r audit.Recorder) Option {
	return func(c *engineConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) { c.now = now }
}
