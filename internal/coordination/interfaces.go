package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Iron-Ham/quorum/internal/proof"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Assignment is what the engine hands to an Executor once the quorum
// approves a task for a worker.
type Assignment struct {
	TaskID           string          `json:"task_id"`
	WorkerID         string          `json:"worker_id"`
	Address          string          `json:"address"`
	Type             string          `json:"type,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ProposalID       string          `json:"proposal_id"`
	ReservationToken string          `json:"reservation_token"`
	// Deadline is when the engine stops waiting for a result.
	Deadline time.Time `json:"deadline"`
}

// Executor runs assignments on workers. Results come back asynchronously
// through the engine's ReportResult.
type Executor interface {
	// Submit hands the assignment to its worker. A nil error means the
	// worker accepted it; errors.ErrExecutorRejected, or any other error,
	// means it did not and the task is retried.
	Submit(ctx context.Context, a Assignment) error

	// Cancel asks the worker to stop the task. acknowledged is true when
	// the worker confirmed the stop.
	Cancel(ctx context.Context, taskID, workerID string) (acknowledged bool, err error)
}

// ResultSink receives execution results.
type ResultSink interface {
	ReportResult(res task.ExecutionResult) error
}

// AddressResolver maps a worker ID to the address its executor dials.
type AddressResolver interface {
	ResolveWorkerAddress(workerID string) (string, error)
}

// AddressResolverFunc adapts a function to AddressResolver.
type AddressResolverFunc func(workerID string) (string, error)

// ResolveWorkerAddress calls f.
func (f AddressResolverFunc) ResolveWorkerAddress(workerID string) (string, error) {
	return f(workerID)
}

// HealthSource is an external worker health signal consumed by the registry.
type HealthSource = registry.HealthSource

// Validator checks the proof carried by proof-gated tasks.
type Validator = proof.Validator

// Verdict is a Validator's decision.
type Verdict = proof.Verdict

// registryResolver resolves addresses from the endpoints workers
// registered with.
type registryResolver struct {
	reg *registry.Registry
}

func (r registryResolver) ResolveWorkerAddress(workerID string) (string, error) {
	w, err := r.reg.Get(workerID)
	if err != nil {
		return "", err
	}
	if w.Endpoint == "" {
		return "local://" + w.ID, nil
	}
	return w.Endpoint, nil
}
