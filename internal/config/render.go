package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// YAML renders c as a config file that Load reads back unchanged.
// Durations are written in time.Duration notation ("30s").
func (c *Config) YAML() ([]byte, error) {
	resources := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range c.Resources {
		resources.Content = append(resources.Content, mapping(
			"id", r.ID,
			"type", r.Type,
			"capacity", r.Capacity,
		))
	}
	workers := &yaml.Node{Kind: yaml.SequenceNode}
	for _, w := range c.Workers {
		workers.Content = append(workers.Content, mapping(
			"id", w.ID,
			"capabilities", nonNil(w.Capabilities),
			"capacity", w.Capacity,
			"endpoint", w.Endpoint,
		))
	}

	doc := mapping(
		"queue", mapping(
			"capacity", c.Queue.Capacity,
			"max_retries", c.Queue.MaxRetries,
		),
		"ledger", mapping(
			"lease_ttl", c.Ledger.LeaseTTL,
			"sweep_interval", c.Ledger.SweepInterval,
			"reserve_wait", c.Ledger.ReserveWait,
		),
		"quorum", mapping(
			"threshold", c.Quorum.Threshold,
			"validators", nonNil(c.Quorum.Validators),
			"vote_timeout", c.Quorum.VoteTimeout,
			"auto_vote", c.Quorum.AutoVote,
		),
		"registry", mapping(
			"heartbeat_timeout", c.Registry.HeartbeatTimeout,
			"sweep_interval", c.Registry.SweepInterval,
			"strategy", c.Registry.Strategy,
		),
		"engine", mapping(
			"scheduler_workers", c.Engine.SchedulerWorkers,
			"poll_interval", c.Engine.PollInterval,
			"max_execution_time", c.Engine.MaxExecutionTime,
			"cancel_timeout", c.Engine.CancelTimeout,
			"proposal_retention", c.Engine.ProposalRetention,
			"proof_gated_types", nonNil(c.Engine.ProofGatedTypes),
			"proof_validator", c.Engine.ProofValidator,
		),
		"executor", mapping(
			"max_concurrent", c.Executor.MaxConcurrent,
			"handler", c.Executor.Handler,
			"sleep", c.Executor.Sleep,
			"heartbeat_interval", c.Executor.HeartbeatInterval,
		),
		"api", mapping(
			"listen", c.API.Listen,
			"server", c.API.Server,
		),
		"logging", mapping(
			"level", c.Logging.Level,
			"dir", c.Logging.Dir,
			"max_size_mb", c.Logging.MaxSizeMB,
			"max_backups", c.Logging.MaxBackups,
			"compress", c.Logging.Compress,
		),
		"audit", mapping(
			"enabled", c.Audit.Enabled,
			"db_path", c.Audit.DBPath,
		),
		"resources", resources,
		"workers", workers,
	)
	return yaml.Marshal(doc)
}

// mapping builds an ordered YAML mapping from alternating keys and values.
func mapping(kv ...any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i+1 < len(kv); i += 2 {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(kv[i])}
		n.Content = append(n.Content, key, valueNode(kv[i+1]))
	}
	return n
}

func valueNode(v any) *yaml.Node {
	switch v := v.(type) {
	case *yaml.Node:
		return v
	case time.Duration:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.String()}
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(v)}
	}
	return &n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
