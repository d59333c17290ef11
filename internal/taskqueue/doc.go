// Package taskqueue provides the bounded priority queue that feeds the
// coordination engine's schedulers.
//
// Tasks are held in four FIFO bands (critical, high, normal, low). [Queue.Next]
// always drains the highest non-empty band first and never blocks. A task
// that hits a transient failure is put back with [Queue.Requeue], which
// inserts it at the front of its band so it keeps its place ahead of
// later arrivals, and counts the attempt against the task's retry budget.
//
// Admission is bounded: [Queue.Submit] returns ErrQueueFull instead of
// waiting when the queue is at capacity.
//
// [EventQueue] wraps a Queue and publishes task.submitted, task.requeued and
// queue.depth_changed events on an [event.Bus].
//
// Usage:
//
//	q := taskqueue.New(taskqueue.WithCapacity(1000), taskqueue.WithMaxRetries(3))
//	id, err := q.Submit(task.Task{Priority: task.PriorityHigh, Requirements: req})
//
//	for {
//	    t, ok := q.Next()
//	    if !ok {
//	        <-q.Ready()
//	        continue
//	    }
//	    if err := schedule(t); errors.IsRetryable(err) {
//	        if err := q.Requeue(&t); errors.Is(err, errors.ErrMaxRetriesExceeded) {
//	            fail(t)
//	        }
//	    }
//	}
package taskqueue
