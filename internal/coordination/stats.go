package coordination

import (
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/quorum/internal/task"
)

type counters struct {
	submitted      atomic.Uint64
	completed      atomic.Uint64
	failed         atomic.Uint64
	cancelled      atomic.Uint64
	requeued       atomic.Uint64
	deadLettered   atomic.Uint64
	executionNanos atomic.Int64
}

// Stats is a point-in-time summary of engine activity.
type Stats struct {
	Submitted     uint64        `json:"submitted"`
	Completed     uint64        `json:"completed"`
	Failed        uint64        `json:"failed"`
	Cancelled     uint64        `json:"cancelled"`
	Requeued      uint64        `json:"requeued"`
	DeadLettered  uint64        `json:"dead_lettered"`
	ExecutionTime time.Duration `json:"execution_time"`
	QueueDepth    int           `json:"queue_depth"`
	InFlight      int           `json:"in_flight"`
}

// AverageExecutionTime returns the mean execution time of completed tasks.
func (s Stats) AverageExecutionTime() time.Duration {
	if s.Completed == 0 {
		return 0
	}
	return s.ExecutionTime / time.Duration(s.Completed)
}

// Stats returns the engine's counters. InFlight counts tasks that have
// left the queue but not reached a terminal status.
func (e *Engine) Stats() Stats {
	s := Stats{
		Submitted:     e.stats.submitted.Load(),
		Completed:     e.stats.completed.Load(),
		Failed:        e.stats.failed.Load(),
		Cancelled:     e.stats.cancelled.Load(),
		Requeued:      e.stats.requeued.Load(),
		DeadLettered:  e.stats.deadLettered.Load(),
		ExecutionTime: time.Duration(e.stats.executionNanos.Load()),
		QueueDepth:    e.queue.Len(),
	}
	e.tasks.Range(func(_, v any) bool {
		rec := v.(*record)
		rec.mu.Lock()
		st := rec.t.Status
		rec.mu.Unlock()
		if st != task.StatusPending && !st.IsTerminal() {
			s.InFlight++
		}
		return true
	})
	return s
}
