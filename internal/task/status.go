package task

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task is queued and waiting to be scheduled.
	StatusPending Status = "pending"

	// StatusReservePending indicates a scheduler dequeued the task and is
	// selecting a worker and reserving resources.
	StatusReservePending Status = "reserve_pending"

	// StatusProposalPending indicates resources are held and the assignment
	// is awaiting a quorum decision.
	StatusProposalPending Status = "proposal_pending"

	// StatusCommitted indicates the quorum approved the assignment.
	StatusCommitted Status = "committed"

	// StatusAssigned indicates the task is bound to a worker but not yet
	// accepted by the executor.
	StatusAssigned Status = "assigned"

	// StatusRunning indicates the worker accepted the task.
	StatusRunning Status = "running"

	// StatusCancelRequested indicates cancellation was requested after commit
	// and the engine is waiting for the worker to acknowledge it.
	StatusCancelRequested Status = "cancel_requested"

	// StatusCompleted indicates the worker reported success.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a terminal failure; see Task.Failure.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the task was cancelled.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsCommitted reports whether the quorum has approved the assignment, so
// cancellation must go through the worker.
func (s Status) IsCommitted() bool {
	switch s {
	case StatusCommitted, StatusAssigned, StatusRunning, StatusCancelRequested:
		return true
	}
	return false
}

// transitions lists the legal successors of each non-terminal status.
// Cancellation is legal from every non-terminal status and is added by
// CanTransition.
var transitions = map[Status][]Status{
	StatusPending:         {StatusReservePending},
	StatusReservePending:  {StatusProposalPending, StatusPending, StatusFailed},
	StatusProposalPending: {StatusCommitted, StatusPending, StatusFailed},
	StatusCommitted:       {StatusAssigned, StatusPending, StatusFailed, StatusCancelRequested},
	StatusAssigned:        {StatusRunning, StatusCompleted, StatusPending, StatusFailed, StatusCancelRequested},
	StatusRunning:         {StatusCompleted, StatusPending, StatusFailed, StatusCancelRequested},
	StatusCancelRequested: {},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
