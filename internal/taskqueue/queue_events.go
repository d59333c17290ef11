package taskqueue

import (
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/task"
)

// EventQueue wraps a Queue and publishes events to an event bus whenever
// the queue changes. Events are published after the queue lock is
// released, so handlers may call back into the queue.
type EventQueue struct {
	*Queue
	bus *event.Bus
}

// NewEventQueue creates an EventQueue that publishes events on the given bus.
func NewEventQueue(q *Queue, bus *event.Bus) *EventQueue {
	return &EventQueue{Queue: q, bus: bus}
}

// Submit admits a task and publishes TaskSubmittedEvent and
// QueueDepthChangedEvent.
func (eq *EventQueue) Submit(t task.Task) (string, error) {
	id, err := eq.Queue.Submit(t)
	if err != nil {
		return "", err
	}
	p := t.Priority
	if p == 0 {
		p = task.PriorityNormal
	}
	eq.bus.Publish(event.NewTaskSubmittedEvent(id, int(p)))
	eq.publishDepth()
	return id, nil
}

// Next pops the next task and publishes QueueDepthChangedEvent.
func (eq *EventQueue) Next() (task.Task, bool) {
	t, ok := eq.Queue.Next()
	if ok {
		eq.publishDepth()
	}
	return t, ok
}

// Requeue puts the task back at the front of its band and publishes
// TaskRequeuedEvent with the reason. Exhausted tasks publish nothing; the
// caller records the terminal failure.
func (eq *EventQueue) Requeue(t *task.Task, reason string) error {
	if err := eq.Queue.Requeue(t); err != nil {
		return err
	}
	eq.bus.Publish(event.NewTaskRequeuedEvent(t.ID, t.RetryCount, reason))
	eq.publishDepth()
	return nil
}

// Remove drops a queued task and publishes QueueDepthChangedEvent.
func (eq *EventQueue) Remove(taskID string) bool {
	if !eq.Queue.Remove(taskID) {
		return false
	}
	eq.publishDepth()
	return true
}

func (eq *EventQueue) publishDepth() {
	depths := eq.Queue.Depths()
	bands := make(map[string]int, len(depths))
	total := 0
	for p, n := range depths {
		bands[p.String()] = n
		total += n
	}
	eq.bus.Publish(event.NewQueueDepthChangedEvent(total, bands))
}

var (
	_ event.Event = event.TaskSubmittedEvent{}
	_ event.Event = event.TaskRequeuedEvent{}
	_ event.Event = event.QueueDepthChangedEvent{}
)
