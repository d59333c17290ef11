package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration
type Config struct {
	Queue     QueueConfig    `mapstructure:"queue"`
	Ledger    LedgerConfig   `mapstructure:"ledger"`
	Quorum    QuorumConfig   `mapstructure:"quorum"`
	Registry  RegistryConfig `mapstructure:"registry"`
	Engine    EngineConfig   `mapstructure:"engine"`
	Executor  ExecutorConfig `mapstructure:"executor"`
	API       APIConfig      `mapstructure:"api"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Audit     AuditConfig    `mapstructure:"audit"`
	Resources []ResourceSpec `mapstructure:"resources"`
	Workers   []WorkerSpec   `mapstructure:"workers"`
}

// QueueConfig controls the pending task queue
type QueueConfig struct {
	// Capacity is the maximum number of queued tasks. Submissions beyond it fail.
	Capacity int `mapstructure:"capacity"`
	// MaxRetries is the retry budget given to tasks that do not set their own.
	MaxRetries int `mapstructure:"max_retries"`
}

// LedgerConfig controls resource reservations
type LedgerConfig struct {
	// LeaseTTL is how long an uncommitted reservation lives.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// SweepInterval is how often expired reservations are reclaimed.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ReserveWait is how long the scheduler waits for capacity to free up
	// before requeueing a task. Zero fails immediately.
	ReserveWait time.Duration `mapstructure:"reserve_wait"`
}

// QuorumConfig controls assignment voting
type QuorumConfig struct {
	Threshold   float64       `mapstructure:"threshold"`
	Validators  []string      `mapstructure:"validators"`
	VoteTimeout time.Duration `mapstructure:"vote_timeout"`
	// AutoVote runs an in-process validator pool voting for every validator.
	AutoVote bool `mapstructure:"auto_vote"`
}

// RegistryConfig controls worker health tracking and selection
type RegistryConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	// Strategy ranks eligible workers: least-loaded, most-headroom or first-fit.
	Strategy string `mapstructure:"strategy"`
}

// EngineConfig controls the coordination engine
type EngineConfig struct {
	SchedulerWorkers  int           `mapstructure:"scheduler_workers"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxExecutionTime  time.Duration `mapstructure:"max_execution_time"`
	CancelTimeout     time.Duration `mapstructure:"cancel_timeout"`
	ProposalRetention time.Duration `mapstructure:"proposal_retention"`
	// ProofGatedTypes lists task types whose proof must validate before scheduling.
	ProofGatedTypes []string `mapstructure:"proof_gated_types"`
	// ProofValidator names the validator applied to gated tasks.
	ProofValidator string `mapstructure:"proof_validator"`
}

// ExecutorConfig controls the in-process executor used by `quorum serve`
type ExecutorConfig struct {
	// MaxConcurrent caps running assignments per worker.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// Handler is the built-in handler run for each assignment: echo or sleep.
	Handler string `mapstructure:"handler"`
	// Sleep is how long the sleep handler runs.
	Sleep time.Duration `mapstructure:"sleep"`
	// HeartbeatInterval is how often local workers heartbeat.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// APIConfig controls the HTTP control API
type APIConfig struct {
	Listen string `mapstructure:"listen"`
	// Server is the base URL client commands talk to.
	Server string `mapstructure:"server"`
}

// LoggingConfig controls daemon logging
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Changes are applied live.
	Level string `mapstructure:"level"`
	// Dir is where quorum.log is written. Empty logs to stderr.
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// AuditConfig controls the decision journal
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// DBPath is the SQLite file. Empty uses audit.db in the config directory.
	DBPath string `mapstructure:"db_path"`
}

// ResourceSpec is a resource registered with the ledger at startup
type ResourceSpec struct {
	ID       string `mapstructure:"id"`
	Type     string `mapstructure:"type"`
	Capacity uint64 `mapstructure:"capacity"`
}

// WorkerSpec is a worker registered at startup and served by the local executor
type WorkerSpec struct {
	ID           string            `mapstructure:"id"`
	Capabilities []string          `mapstructure:"capabilities"`
	Capacity     map[string]uint64 `mapstructure:"capacity"`
	Endpoint     string            `mapstructure:"endpoint"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Capacity:   10000,
			MaxRetries: 3,
		},
		Ledger: LedgerConfig{
			LeaseTTL:      60 * time.Second,
			SweepInterval: 5 * time.Second,
			ReserveWait:   2 * time.Second,
		},
		Quorum: QuorumConfig{
			Threshold:   0.67,
			Validators:  []string{"validator-1", "validator-2", "validator-3"},
			VoteTimeout: 10 * time.Second,
			AutoVote:    true,
		},
		Registry: RegistryConfig{
			HeartbeatTimeout: 30 * time.Second,
			SweepInterval:    5 * time.Second,
			Strategy:         "least-loaded",
		},
		Engine: EngineConfig{
			SchedulerWorkers:  4,
			PollInterval:      100 * time.Millisecond,
			MaxExecutionTime:  5 * time.Minute,
			CancelTimeout:     30 * time.Second,
			ProposalRetention: 10 * time.Minute,
			ProofGatedTypes:   []string{},
			ProofValidator:    "structural",
		},
		Executor: ExecutorConfig{
			MaxConcurrent:     4,
			Handler:           "echo",
			Sleep:             time.Second,
			HeartbeatInterval: 5 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7450",
			Server: "http://127.0.0.1:7450",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Queue defaults
	viper.SetDefault("queue.capacity", defaults.Queue.Capacity)
	viper.SetDefault("queue.max_retries", defaults.Queue.MaxRetries)

	// Ledger defaults
	viper.SetDefault("ledger.lease_ttl", defaults.Ledger.LeaseTTL)
	viper.SetDefault("ledger.sweep_interval", defaults.Ledger.SweepInterval)
	viper.SetDefault("ledger.reserve_wait", defaults.Ledger.ReserveWait)

	// Quorum defaults
	viper.SetDefault("quorum.threshold", defaults.Quorum.Threshold)
	viper.SetDefault("quorum.validators", defaults.Quorum.Validators)
	viper.SetDefault("quorum.vote_timeout", defaults.Quorum.VoteTimeout)
	viper.SetDefault("quorum.auto_vote", defaults.Quorum.AutoVote)

	// Registry defaults
	viper.SetDefault("registry.heartbeat_timeout", defaults.Registry.HeartbeatTimeout)
	viper.SetDefault("registry.sweep_interval", defaults.Registry.SweepInterval)
	viper.SetDefault("registry.strategy", defaults.Registry.Strategy)

	// Engine defaults
	viper.SetDefault("engine.scheduler_workers", defaults.Engine.SchedulerWorkers)
	viper.SetDefault("engine.poll_interval", defaults.Engine.PollInterval)
	viper.SetDefault("engine.max_execution_time", defaults.Engine.MaxExecutionTime)
	viper.SetDefault("engine.cancel_timeout", defaults.Engine.CancelTimeout)
	viper.SetDefault("engine.proposal_retention", defaults.Engine.ProposalRetention)
	viper.SetDefault("engine.proof_gated_types", defaults.Engine.ProofGatedTypes)
	viper.SetDefault("engine.proof_validator", defaults.Engine.ProofValidator)

	// Executor defaults
	viper.SetDefault("executor.max_concurrent", defaults.Executor.MaxConcurrent)
	viper.SetDefault("executor.handler", defaults.Executor.Handler)
	viper.SetDefault("executor.sleep", defaults.Executor.Sleep)
	viper.SetDefault("executor.heartbeat_interval", defaults.Executor.HeartbeatInterval)

	// API defaults
	viper.SetDefault("api.listen", defaults.API.Listen)
	viper.SetDefault("api.server", defaults.API.Server)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Audit defaults
	viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	viper.SetDefault("audit.db_path", defaults.Audit.DBPath)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quorum")
	}
	// Fall back to ~/.config/quorum
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quorum"
	}
	return filepath.Join(home, ".config", "quorum")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// AuditDBPath returns the configured audit database path, or the default
// location inside the config directory.
func (c *AuditConfig) AuditDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(ConfigDir(), "audit.db")
}

// ResourceIDs returns the IDs of the configured resources in order.
func (c *Config) ResourceIDs() []string {
	ids := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		ids = append(ids, r.ID)
	}
	return ids
}

// WorkerIDs returns the IDs of the configured workers in order.
func (c *Config) WorkerIDs() []string {
	ids := make([]string, 0, len(c.Workers))
	for _, w := range c.Workers {
		ids = append(ids, w.ID)
	}
	return ids
}
