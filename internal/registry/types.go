package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/quorum/internal/task"
)

// Health is a worker's derived health.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// severity orders the health values an external source may report.
// Unknown from a source means "no opinion" and never downgrades.
func (h Health) severity() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	default:
		return -1
	}
}

// HealthSource is an external health signal, such as a network probe.
// It can only make a worker look worse than its heartbeat says.
type HealthSource interface {
	IsHealthy(workerID string) Health
}

// HealthSourceFunc adapts a function to HealthSource.
type HealthSourceFunc func(workerID string) Health

// IsHealthy calls f.
func (f HealthSourceFunc) IsHealthy(workerID string) Health { return f(workerID) }

// Worker is a registered execution node.
type Worker struct {
	ID            string                       `json:"id"`
	Capabilities  []string                     `json:"capabilities,omitempty"`
	Capacity      map[task.ResourceType]uint64 `json:"capacity,omitempty"`
	Load          float64                      `json:"load"`
	Health        Health                       `json:"health"`
	LastHeartbeat time.Time                    `json:"last_heartbeat,omitempty"`
	Endpoint      string                       `json:"endpoint,omitempty"`
	RegisteredAt  time.Time                    `json:"registered_at"`
	Completed     uint64                       `json:"completed"`
	Failed        uint64                       `json:"failed"`
}

func (w Worker) clone() Worker {
	cp := w
	if w.Capabilities != nil {
		cp.Capabilities = append([]string(nil), w.Capabilities...)
	}
	if w.Capacity != nil {
		cp.Capacity = make(map[task.ResourceType]uint64, len(w.Capacity))
		for k, v := range w.Capacity {
			cp.Capacity[k] = v
		}
	}
	return cp
}

// Need is what a task requires of its worker.
type Need struct {
	Type         task.ResourceType
	Amount       uint64
	Capabilities []string
}

// Strategy ranks eligible workers.
type Strategy string

const (
	// StrategyLeastLoaded prefers the lowest reported load, then the lowest ID.
	StrategyLeastLoaded Strategy = "least-loaded"
	// StrategyMostHeadroom prefers the most unused capacity of the needed type.
	StrategyMostHeadroom Strategy = "most-headroom"
	// StrategyFirstFit takes the eligible worker with the lowest ID.
	StrategyFirstFit Strategy = "first-fit"
)

// Strategies returns every supported strategy.
func Strategies() []Strategy {
	return []Strategy{StrategyLeastLoaded, StrategyMostHeadroom, StrategyFirstFit}
}

// ParseStrategy converts a strategy name. Empty selects least-loaded.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyLeastLoaded:
		return StrategyLeastLoaded, nil
	case StrategyMostHeadroom:
		return StrategyMostHeadroom, nil
	case StrategyFirstFit:
		return StrategyFirstFit, nil
	}
	return "", fmt.Errorf("unknown selection strategy %q", s)
}
