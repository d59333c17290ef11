// Package task defines the domain types shared by the queue, ledger,
// registry, quorum and coordination engine.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority orders tasks within the queue. Higher values are dequeued first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Priorities returns every priority band from highest to lowest.
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
}

// String returns the lowercase band name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the four defined bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority converts a band name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// ResourceType classifies a ledger resource and a worker's advertised capacity.
type ResourceType string

const (
	ResourceCPU     ResourceType = "cpu"
	ResourceMemory  ResourceType = "memory"
	ResourceGPU     ResourceType = "gpu"
	ResourceStorage ResourceType = "storage"
)

// ResourceTypes returns all known resource types.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceCPU, ResourceMemory, ResourceGPU, ResourceStorage}
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceCPU, ResourceMemory, ResourceGPU, ResourceStorage:
		return true
	}
	return false
}

// Requirements describes what a task needs from a worker and the ledger.
type Requirements struct {
	// Capabilities lists capability names or glob patterns the worker must advertise.
	Capabilities []string `json:"capabilities,omitempty"`
	// ResourceID names the ledger resource to reserve from.
	ResourceID string `json:"resource_id"`
	// Amount is the number of units reserved for the lifetime of the task.
	Amount uint64 `json:"amount"`
}

// ProofType identifies how a proof was produced.
type ProofType string

const (
	ProofWork        ProofType = "work"
	ProofStake       ProofType = "stake"
	ProofComputation ProofType = "computation"
	ProofStorage     ProofType = "storage"
)

// Proof is an opaque attestation attached to proof-gated tasks.
type Proof struct {
	Type      ProofType `json:"type"`
	Data      string    `json:"data"`
	Submitter string    `json:"submitter,omitempty"`
}

// Metrics are the resource usage figures a worker reports with a result.
type Metrics struct {
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryBytes     uint64  `json:"memory_bytes"`
	NetworkSent     uint64  `json:"network_sent"`
	NetworkReceived uint64  `json:"network_received"`
}

// ExecutionResult is delivered asynchronously by a worker once it finishes.
type ExecutionResult struct {
	TaskID   string          `json:"task_id"`
	WorkerID string          `json:"worker_id"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
	Metrics  Metrics         `json:"metrics"`
}

// Failure records why a task ended in StatusFailed.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is the unit of work tracked by the coordination engine.
type Task struct {
	ID               string           `json:"id"`
	Type             string           `json:"type,omitempty"`
	Priority         Priority         `json:"priority"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
	Requirements     Requirements     `json:"requirements"`
	Proof            *Proof           `json:"proof,omitempty"`
	Status           Status           `json:"status"`
	RetryCount       int              `json:"retry_count"`
	MaxRetries       int              `json:"max_retries,omitempty"`
	ReservationToken string           `json:"reservation_token,omitempty"`
	AssignedWorker   string           `json:"assigned_worker,omitempty"`
	Failure          *Failure         `json:"failure,omitempty"`
	Result           *ExecutionResult `json:"result,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing slices or pointers with the owner.
func (t Task) Clone() Task {
	cp := t
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Requirements.Capabilities != nil {
		cp.Requirements.Capabilities = append([]string(nil), t.Requirements.Capabilities...)
	}
	if t.Proof != nil {
		p := *t.Proof
		cp.Proof = &p
	}
	if t.Failure != nil {
		f := *t.Failure
		cp.Failure = &f
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.Data != nil {
			r.Data = append(json.RawMessage(nil), t.Result.Data...)
		}
		cp.Result = &r
	}
	return cp
}
