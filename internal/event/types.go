// Package event defines the domain events published by the coordination
// pipeline. Events let validators, metrics and the audit journal observe
// the engine without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.submitted", "proposal.opened")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeTaskSubmitted       = "task.submitted"
	TypeTaskRequeued        = "task.requeued"
	TypeTaskStatusChanged   = "task.status_changed"
	TypeTaskDeadLettered    = "task.dead_lettered"
	TypeQueueDepthChanged   = "queue.depth_changed"
	TypeProposalOpened      = "proposal.opened"
	TypeProposalResolved    = "proposal.resolved"
	TypeVoteCast            = "proposal.vote_cast"
	TypeReservationExpired  = "reservation.expired"
	TypeWorkerHealthChanged = "worker.health_changed"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskSubmittedEvent is emitted when a task is admitted to the queue.
type TaskSubmittedEvent struct {
	baseEvent
	TaskID   string
	Priority int
}

// NewTaskSubmittedEvent creates a TaskSubmittedEvent.
func NewTaskSubmittedEvent(taskID string, priority int) TaskSubmittedEvent {
	return TaskSubmittedEvent{
		baseEvent: newBaseEvent(TypeTaskSubmitted),
		TaskID:    taskID,
		Priority:  priority,
	}
}

// TaskRequeuedEvent is emitted when a task goes back to the front of its band.
type TaskRequeuedEvent struct {
	baseEvent
	TaskID     string
	RetryCount int
	Reason     string
}

// NewTaskRequeuedEvent creates a TaskRequeuedEvent.
func NewTaskRequeuedEvent(taskID string, retryCount int, reason string) TaskRequeuedEvent {
	return TaskRequeuedEvent{
		baseEvent:  newBaseEvent(TypeTaskRequeued),
		TaskID:     taskID,
		RetryCount: retryCount,
		Reason:     reason,
	}
}

// TaskStatusChangedEvent is emitted on every status transition.
type TaskStatusChangedEvent struct {
	baseEvent
	TaskID string
	From   string
	To     string
	Worker string // Assigned worker, if any
	Reason string // Failure or cancellation reason, if any
}

// NewTaskStatusChangedEvent creates a TaskStatusChangedEvent.
func NewTaskStatusChangedEvent(taskID, from, to, worker, reason string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		baseEvent: newBaseEvent(TypeTaskStatusChanged),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Worker:    worker,
		Reason:    reason,
	}
}

// TaskDeadLetteredEvent is emitted when a task fails terminally.
type TaskDeadLetteredEvent struct {
	baseEvent
	TaskID string
	Code   string
	Reason string
}

// NewTaskDeadLetteredEvent creates a TaskDeadLetteredEvent.
func NewTaskDeadLetteredEvent(taskID, code, reason string) TaskDeadLetteredEvent {
	return TaskDeadLetteredEvent{
		baseEvent: newBaseEvent(TypeTaskDeadLettered),
		TaskID:    taskID,
		Code:      code,
		Reason:    reason,
	}
}

// QueueDepthChangedEvent is emitted whenever the queue length changes.
type QueueDepthChangedEvent struct {
	baseEvent
	Depth int
	Bands map[string]int // priority band name -> depth
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(depth int, bands map[string]int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepthChanged),
		Depth:     depth,
		Bands:     bands,
	}
}

// -----------------------------------------------------------------------------
// Proposal Events
// -----------------------------------------------------------------------------

// ProposalOpenedEvent is broadcast to validators when voting begins.
type ProposalOpenedEvent struct {
	baseEvent
	ProposalID      string
	TaskID          string
	CandidateWorker string
	Deadline        time.Time
}

// NewProposalOpenedEvent creates a ProposalOpenedEvent.
func NewProposalOpenedEvent(proposalID, taskID, worker string, deadline time.Time) ProposalOpenedEvent {
	return ProposalOpenedEvent{
		baseEvent:       newBaseEvent(TypeProposalOpened),
		ProposalID:      proposalID,
		TaskID:          taskID,
		CandidateWorker: worker,
		Deadline:        deadline,
	}
}

// VoteCastEvent is emitted for every accepted vote.
type VoteCastEvent struct {
	baseEvent
	ProposalID  string
	ValidatorID string
	Approve     bool
}

// NewVoteCastEvent creates a VoteCastEvent.
func NewVoteCastEvent(proposalID, validatorID string, approve bool) VoteCastEvent {
	return VoteCastEvent{
		baseEvent:   newBaseEvent(TypeVoteCast),
		ProposalID:  proposalID,
		ValidatorID: validatorID,
		Approve:     approve,
	}
}

// ProposalResolvedEvent is emitted once when a proposal reaches a terminal state.
type ProposalResolvedEvent struct {
	baseEvent
	ProposalID string
	TaskID     string
	State      string
	Reason     string
	For        int
	Against    int
}

// NewProposalResolvedEvent creates a ProposalResolvedEvent.
func NewProposalResolvedEvent(proposalID, taskID, state, reason string, votesFor, votesAgainst int) ProposalResolvedEvent {
	return ProposalResolvedEvent{
		baseEvent:  newBaseEvent(TypeProposalResolved),
		ProposalID: proposalID,
		TaskID:     taskID,
		State:      state,
		Reason:     reason,
		For:        votesFor,
		Against:    votesAgainst,
	}
}

// -----------------------------------------------------------------------------
// Ledger and Registry Events
// -----------------------------------------------------------------------------

// ReservationExpiredEvent is emitted when an uncommitted lease lapses.
type ReservationExpiredEvent struct {
	baseEvent
	Token      string
	ResourceID string
	TaskID     string
	Amount     uint64
}

// NewReservationExpiredEvent creates a ReservationExpiredEvent.
func NewReservationExpiredEvent(token, resourceID, taskID string, amount uint64) ReservationExpiredEvent {
	return ReservationExpiredEvent{
		baseEvent:  newBaseEvent(TypeReservationExpired),
		Token:      token,
		ResourceID: resourceID,
		TaskID:     taskID,
		Amount:     amount,
	}
}

// WorkerHealthChangedEvent is emitted when a worker's derived health changes.
type WorkerHealthChangedEvent struct {
	baseEvent
	WorkerID string
	From     string
	To       string
}

// NewWorkerHealthChangedEvent creates a WorkerHealthChangedEvent.
func NewWorkerHealthChangedEvent(workerID, from, to string) WorkerHealthChangedEvent {
	return WorkerHealthChangedEvent{
		baseEvent: newBaseEvent(TypeWorkerHealthChanged),
		WorkerID:  workerID,
		From:      from,
		To:        to,
	}
}
