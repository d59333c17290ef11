package taskqueue

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultCapacity   = 10000
	DefaultMaxRetries = 3
)

// Queue is a bounded priority queue with one FIFO band per priority.
// All methods are safe for concurrent use via an internal mutex.
type Queue struct {
	mu         sync.Mutex
	bands      map[task.Priority]*list.List
	index      map[string]*list.Element // taskID -> element in its band
	size       int
	capacity   int
	maxRetries int
	ready      chan struct{}
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity sets the admission bound. Values <= 0 keep the default.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithMaxRetries sets the default retry budget for tasks that do not carry
// their own. Values <= 0 keep the default.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithClock overrides time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		bands:      make(map[task.Priority]*list.List, 4),
		index:      make(map[string]*list.Element),
		capacity:   DefaultCapacity,
		maxRetries: DefaultMaxRetries,
		ready:      make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, p := range task.Priorities() {
		q.bands[p] = list.New()
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit admits a task at the back of its priority band and returns its ID.
// A missing ID is generated and a zero priority becomes Normal. Submit never
// blocks: a full queue returns ErrQueueFull.
func (q *Queue) Submit(t task.Task) (string, error) {
	if t.Priority == 0 {
		t.Priority = task.PriorityNormal
	}
	if !t.Priority.Valid() {
		return "", errors.NewValidationError("unknown priority").WithField("priority").WithValue(int(t.Priority))
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size >= q.capacity {
		return "", fmt.Errorf("%w: capacity %d reached", errors.ErrQueueFull, q.capacity)
	}
	if _, ok := q.index[t.ID]; ok {
		return "", errors.NewAlreadyExistsError("task", t.ID)
	}

	now := q.now()
	t.Status = task.StatusPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	q.index[t.ID] = q.bands[t.Priority].PushBack(t.Clone())
	q.size++
	q.signal()
	return t.ID, nil
}

// Next pops the oldest task from the highest non-empty band. It does not
// block; ok is false when the queue is empty.
func (q *Queue) Next() (t task.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range task.Priorities() {
		band := q.bands[p]
		if front := band.Front(); front != nil {
			t = band.Remove(front).(task.Task)
			delete(q.index, t.ID)
			q.size--
			return t, true
		}
	}
	return task.Task{}, false
}

// Requeue puts a task back at the front of its band and increments
// t.RetryCount. The retry budget (t.MaxRetries, or the queue default)
// bounds the total number of attempts: when this requeue would bring
// RetryCount to the budget, ErrMaxRetriesExceeded is returned and the task
// is not reinserted. Requeue ignores capacity since the task was already
// admitted.
func (q *Queue) Requeue(t *task.Task) error {
	if err := q.CheckRetry(*t); err != nil {
		return err
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityNormal
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[t.ID]; ok {
		return errors.NewAlreadyExistsError("task", t.ID)
	}

	t.RetryCount++
	t.Status = task.StatusPending
	t.UpdatedAt = q.now()

	q.index[t.ID] = q.bands[t.Priority].PushFront(t.Clone())
	q.size++
	q.signal()
	return nil
}

// CheckRetry reports ErrMaxRetriesExceeded if requeueing t would exceed its
// retry budget, without touching the queue.
func (q *Queue) CheckRetry(t task.Task) error {
	budget := t.MaxRetries
	if budget <= 0 {
		budget = q.maxRetries
	}
	if t.RetryCount+1 >= budget {
		return fmt.Errorf("%w: task %s after %d attempts", errors.ErrMaxRetriesExceeded, t.ID, t.RetryCount+1)
	}
	return nil
}

// Remove drops a queued task. It reports false if the task is not queued,
// for example because a scheduler already dequeued it.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[taskID]
	if !ok {
		return false
	}
	t := el.Value.(task.Task)
	q.bands[t.Priority].Remove(el)
	delete(q.index, taskID)
	q.size--
	return true
}

// Contains reports whether the task is currently queued.
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[taskID]
	return ok
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Depths returns the number of queued tasks per band.
func (q *Queue) Depths() map[task.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[task.Priority]int, len(q.bands))
	for p, band := range q.bands {
		out[p] = band.Len()
	}
	return out
}

// Capacity returns the admission bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// MaxRetries returns the default retry budget.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Ready returns a channel that receives a value after a task is added.
// The channel is shared and buffered by one, so schedulers must still call
// Next in a loop and fall back to polling.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// signal must be called with q.mu held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
