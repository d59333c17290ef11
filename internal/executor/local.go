package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/quorum/internal/coordination"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/task"
)

// Handler runs one assignment. It must return promptly once ctx is done.
type Handler func(ctx context.Context, a coordination.Assignment) (json.RawMessage, error)

// DefaultMaxConcurrent is the per-worker limit on running assignments.
const DefaultMaxConcurrent = 4

type run struct {
	worker string
	cancel context.CancelFunc
	done   chan struct{}
}

// Local executes assignments in-process, one goroutine per assignment,
// and reports each result to a sink.
type Local struct {
	mu            sync.Mutex
	sink          coordination.ResultSink
	handler       Handler
	workers       map[string]bool // served worker IDs; empty serves all
	maxConcurrent int
	running       map[string]*run // task ID -> run
	perWorker     map[string]int
	closed        bool
	wg            sync.WaitGroup
	logger        *logging.Logger
	now           func() time.Time
}

// Option configures a Local executor.
type Option func(*Local)

// WithWorkers restricts the executor to the given worker IDs.
func WithWorkers(ids ...string) Option {
	return func(l *Local) {
		for _, id := range ids {
			l.workers[id] = true
		}
	}
}

// WithMaxConcurrent bounds how many assignments one worker runs at once.
// Values <= 0 keep the default.
func WithMaxConcurrent(n int) Option {
	return func(l *Local) {
		if n > 0 {
			l.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides time.Now for result durations.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// NewLocal creates a Local executor reporting to sink.
func NewLocal(sink coordination.ResultSink, h Handler, opts ...Option) *Local {
	l := &Local{
		sink:          sink,
		handler:       h,
		workers:       make(map[string]bool),
		maxConcurrent: DefaultMaxConcurrent,
		running:       make(map[string]*run),
		perWorker:     make(map[string]int),
		logger:        logging.NopLogger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetSink replaces the result sink, for executors created before the
// engine they report to.
func (l *Local) SetSink(sink coordination.ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Submit starts the assignment in its own goroutine. It fails with
// ErrExecutorRejected when the executor is closed, does not serve the
// worker, the worker is at its concurrency limit, or the task is already
// running.
func (l *Local) Submit(_ context.Context, a coordination.Assignment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.closed:
		return fmt.Errorf("%w: executor closed", errors.ErrExecutorRejected)
	case len(l.workers) > 0 && !l.workers[a.WorkerID]:
		return fmt.Errorf("%w: worker %s is not served here", errors.ErrExecutorRejected, a.WorkerID)
	case l.perWorker[a.WorkerID] >= l.maxConcurrent:
		return fmt.Errorf("%w: worker %s is running %d tasks", errors.ErrExecutorRejected, a.WorkerID, l.maxConcurrent)
	}
	if _, ok := l.running[a.TaskID]; ok {
		return fmt.Errorf("%w: task %s already running", errors.ErrExecutorRejected, a.TaskID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if !a.Deadline.IsZero() {
		ctx, cancel = withDeadline(ctx, cancel, a.Deadline)
	}
	r := &run{worker: a.WorkerID, cancel: cancel, done: make(chan struct{})}
	l.running[a.TaskID] = r
	l.perWorker[a.WorkerID]++
	l.wg.Add(1)

	go l.execute(ctx, r, a)
	return nil
}

func withDeadline(parent context.Context, parentCancel context.CancelFunc, d time.Time) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithDeadline(parent, d)
	return ctx, func() {
		cancel()
		parentCancel()
	}
}

func (l *Local) execute(ctx context.Context, r *run, a coordination.Assignment) {
	defer l.wg.Done()
	log := l.logger.WithTask(a.TaskID).WithWorker(a.WorkerID)

	start := l.now()
	data, err := l.invoke(ctx, a)
	res := task.ExecutionResult{
		TaskID:   a.TaskID,
		WorkerID: a.WorkerID,
		Success:  err == nil,
		Data:     data,
		Duration: l.now().Sub(start),
	}
	if err != nil {
		res.Error = err.Error()
	}
	cancelled := errors.Is(ctx.Err(), context.Canceled)

	l.mu.Lock()
	delete(l.running, a.TaskID)
	l.perWorker[r.worker]--
	sink := l.sink
	l.mu.Unlock()
	r.cancel()
	close(r.done)

	if cancelled {
		log.Debug("assignment cancelled")
		return
	}
	if sink == nil {
		log.Warn("no result sink, dropping result")
		return
	}
	if err := sink.ReportResult(res); err != nil {
		log.Warn("result rejected", "error", err)
	}
}

func (l *Local) invoke(ctx context.Context, a coordination.Assignment) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler(ctx, a)
}

// Cancel stops a running assignment and waits for its handler to return.
// acknowledged is false when the task is not running here.
func (l *Local) Cancel(ctx context.Context, taskID, workerID string) (bool, error) {
	l.mu.Lock()
	r, ok := l.running[taskID]
	l.mu.Unlock()
	if !ok || (workerID != "" && r.worker != workerID) {
		return false, nil
	}

	r.cancel()
	select {
	case <-r.done:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Running returns how many assignments are in flight.
func (l *Local) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

// Load returns the fraction of a worker's concurrency limit in use.
func (l *Local) Load(workerID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.perWorker[workerID]) / float64(l.maxConcurrent)
}

// Close rejects new assignments, cancels running ones and waits for them.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	runs := make([]*run, 0, len(l.running))
	for _, r := range l.running {
		runs = append(runs, r)
	}
	l.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	l.wg.Wait()
}

var _ coordination.Executor = (*Local)(nil)
