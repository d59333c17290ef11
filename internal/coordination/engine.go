package coordination

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/proof"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/Iron-Ham/quorum/internal/taskqueue"
)

// Config holds the components an Engine drives. Quorum and Executor are
// required; the rest default to fresh instances wired to Bus.
type Config struct {
	Bus      *event.Bus
	Queue    *taskqueue.EventQueue
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Quorum   *quorum.Quorum
	Executor Executor
}

// Engine moves tasks from the queue through reservation, consensus and
// dispatch to a terminal state. It owns the task records; every status
// change is a compare-and-set under the record's lock.
type Engine struct {
	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	healthSub string

	bus      *event.Bus
	queue    *taskqueue.EventQueue
	ledger   *ledger.Ledger
	registry *registry.Registry
	quorum   *quorum.Quorum
	executor Executor

	cfg    engineConfig
	logger *logging.Logger

	tasks sync.Map // task ID -> *record
	stats counters
}

// record is the engine's view of one task. mu guards every field. It is
// never held while calling into the queue, ledger, quorum or bus.
type record struct {
	mu          sync.Mutex
	t           task.Task
	proposalID  string
	execTimer   *time.Timer
	cancelTimer *time.Timer
}

func (r *record) snapshot() task.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.t.Clone()
}

func (r *record) stopTimersLocked() {
	if r.execTimer != nil {
		r.execTimer.Stop()
		r.execTimer = nil
	}
	if r.cancelTimer != nil {
		r.cancelTimer.Stop()
		r.cancelTimer = nil
	}
}

// NewEngine creates an Engine. It does not start scheduling; call Start.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Quorum == nil {
		return nil, errors.New("coordination: Quorum is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("coordination: Executor is required")
	}

	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(&ec)
	}

	bus := cfg.Bus
	if bus == nil {
		bus = event.NewBus()
	}
	queue := cfg.Queue
	if queue == nil {
		queue = taskqueue.NewEventQueue(taskqueue.New(taskqueue.WithClock(ec.now)), bus)
	}
	led := cfg.Ledger
	if led == nil {
		led = ledger.New(ledger.WithBus(bus), ledger.WithClock(ec.now), ledger.WithLogger(ec.logger))
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(registry.WithBus(bus), registry.WithClock(ec.now), registry.WithLogger(ec.logger))
	}
	if ec.resolver == nil {
		ec.resolver = registryResolver{reg: reg}
	}
	if ec.validator == nil {
		ec.validator = proof.Structural{}
	}

	return &Engine{
		bus:      bus,
		queue:    queue,
		ledger:   led,
		registry: reg,
		quorum:   cfg.Quorum,
		executor: cfg.Executor,
		cfg:      ec,
		logger:   ec.logger.WithComponent("engine"),
	}, nil
}

// Start launches the scheduler workers and the ledger, registry and
// proposal sweepers. Returns an error if the engine is already started.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("coordination: engine already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.schedulerWorkers; i++ {
		g.Go(func() error {
			e.schedule(gctx)
			return nil
		})
	}
	g.Go(func() error { return e.ledger.Run(gctx) })
	g.Go(func() error { return e.registry.Run(gctx) })
	g.Go(func() error {
		e.pruneProposals(gctx)
		return nil
	})

	e.healthSub = e.bus.Subscribe(event.TypeWorkerHealthChanged, e.workerHealthChanged)
	e.cancel = cancel
	e.started = true
	e.done = make(chan struct{})
	e.runErr = nil
	done := e.done
	go func() {
		err := g.Wait()
		e.mu.Lock()
		e.runErr = err
		e.mu.Unlock()
		close(done)
	}()

	e.logger.Info("engine started", "scheduler_workers", e.cfg.schedulerWorkers)
	return nil
}

// Stop cancels scheduling and waits for every background goroutine to
// exit. Tasks already dispatched keep their timers. It is idempotent.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.cancel()
	e.bus.Unsubscribe(e.healthSub)
	e.healthSub = ""
	done := e.done
	e.mu.Unlock()

	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	e.logger.Info("engine stopped")
	return e.runErr
}

// workerHealthChanged requeues every task dispatched to a worker that
// became unhealthy and asks the executor to drop its assignment.
func (e *Engine) workerHealthChanged(ev event.Event) {
	hc, ok := ev.(event.WorkerHealthChangedEvent)
	if !ok || hc.To != string(registry.HealthUnhealthy) {
		return
	}
	e.tasks.Range(func(_, v any) bool {
		rec := v.(*record)
		rec.mu.Lock()
		st, worker, id := rec.t.Status, rec.t.AssignedWorker, rec.t.ID
		rec.mu.Unlock()
		if worker != hc.WorkerID || (st != task.StatusAssigned && st != task.StatusRunning) {
			return true
		}
		cause := errors.NewWorkerError("worker unhealthy", errors.ErrWorkerHealthFailure).WithWorkerID(worker)
		if e.retry(rec, st, cause) {
			e.logger.WithTask(id).Warn("task recalled from unhealthy worker", "worker_id", worker, "status", string(st))
			go e.recall(rec, id, worker)
		}
		return true
	})
}

// Running returns whether the engine is currently started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *Engine) schedule(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if t, ok := e.queue.Next(); ok {
			e.process(ctx, t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-e.queue.Ready():
		case <-ticker.C:
		}
	}
}

func (e *Engine) pruneProposals(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.proposalRetention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.quorum.Prune(e.cfg.now().Add(-e.cfg.proposalRetention)); n > 0 {
				e.logger.Debug("pruned proposals", "count", n)
			}
		}
	}
}

// SubmitTask validates and admits a task, returning its ID. A full queue
// returns ErrQueueFull and the task is not tracked.
func (e *Engine) SubmitTask(t task.Task) (string, error) {
	req := t.Requirements
	if req.ResourceID == "" {
		return "", errors.NewValidationError("resource is required").WithField("requirements.resource_id")
	}
	if req.Amount == 0 {
		return "", errors.NewValidationError("amount must be positive").WithField("requirements.amount")
	}
	res, err := e.ledger.Get(req.ResourceID)
	if err != nil {
		return "", err
	}
	if req.Amount > res.Capacity {
		return "", errors.NewValidationError("amount exceeds resource capacity").
			WithField("requirements.amount").WithValue(req.Amount)
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityNormal
	}
	if !t.Priority.Valid() {
		return "", errors.NewValidationError("unknown priority").WithField("priority").WithValue(int(t.Priority))
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = e.queue.MaxRetries()
	}

	now := e.cfg.now()
	t.Status = task.StatusPending
	t.RetryCount = 0
	t.ReservationToken = ""
	t.AssignedWorker = ""
	t.Failure = nil
	t.Result = nil
	t.CreatedAt = now
	t.UpdatedAt = now

	rec := &record{t: t.Clone()}
	if _, loaded := e.tasks.LoadOrStore(t.ID, rec); loaded {
		return "", errors.NewAlreadyExistsError("task", t.ID)
	}
	if _, err := e.queue.Submit(t); err != nil {
		e.tasks.Delete(t.ID)
		return "", err
	}

	e.stats.submitted.Add(1)
	e.audit(audit.Entry{
		Action:  audit.ActionSubmit,
		TaskID:  t.ID,
		Outcome: string(task.StatusPending),
		Inputs:  map[string]any{"type": t.Type, "priority": t.Priority, "requirements": t.Requirements},
	})
	e.logger.WithTask(t.ID).Info("task submitted",
		"type", t.Type, "priority", t.Priority.String(), "resource_id", req.ResourceID, "amount", req.Amount)
	return t.ID, nil
}

func (e *Engine) lookup(taskID string) (*record, error) {
	v, ok := e.tasks.Load(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, taskID)
	}
	return v.(*record), nil
}

// GetTaskStatus returns the task's current status.
func (e *Engine) GetTaskStatus(taskID string) (task.Status, error) {
	rec, err := e.lookup(taskID)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.t.Status, nil
}

// GetTask returns a snapshot of the task.
func (e *Engine) GetTask(taskID string) (task.Task, error) {
	rec, err := e.lookup(taskID)
	if err != nil {
		return task.Task{}, err
	}
	return rec.snapshot(), nil
}

// Tasks returns snapshots of the tasks accepted by filter, oldest first.
// A nil filter returns every task.
func (e *Engine) Tasks(filter func(task.Task) bool) []task.Task {
	var out []task.Task
	e.tasks.Range(func(_, v any) bool {
		t := v.(*record).snapshot()
		if filter == nil || filter(t) {
			out = append(out, t)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// QueueDepth returns the number of queued tasks.
func (e *Engine) QueueDepth() int { return e.queue.Len() }

// QueueDepths returns the number of queued tasks per priority.
func (e *Engine) QueueDepths() map[task.Priority]int { return e.queue.Depths() }

// GetResourceStatus returns a snapshot of the resource.
func (e *Engine) GetResourceStatus(resourceID string) (ledger.Resource, error) {
	return e.ledger.Get(resourceID)
}

// Resources returns every registered resource.
func (e *Engine) Resources() []ledger.Resource { return e.ledger.List() }

// RegisterResource adds a resource to the ledger.
func (e *Engine) RegisterResource(r ledger.Resource) error {
	if err := e.ledger.Register(r); err != nil {
		return err
	}
	e.logger.Info("resource registered", "resource_id", r.ID, "type", string(r.Type), "capacity", r.Capacity)
	return nil
}

// RegisterWorker adds a worker to the registry.
func (e *Engine) RegisterWorker(w registry.Worker) error {
	return e.registry.Register(w)
}

// Workers returns every registered worker.
func (e *Engine) Workers() []registry.Worker { return e.registry.List() }

// Heartbeat records a liveness signal from a worker.
func (e *Engine) Heartbeat(workerID string) error { return e.registry.Heartbeat(workerID) }

// ReportLoad records a worker's load, in [0,1], as a heartbeat.
func (e *Engine) ReportLoad(workerID string, load float64) error {
	return e.registry.Report(workerID, load)
}

// CastVote forwards a validator's vote to the quorum.
func (e *Engine) CastVote(v quorum.Vote) (quorum.State, error) { return e.quorum.CastVote(v) }

// Proposal returns a snapshot of a proposal.
func (e *Engine) Proposal(proposalID string) (quorum.Proposal, error) {
	return e.quorum.Get(proposalID)
}

// ActiveProposal returns the task's open proposal, if it has one.
func (e *Engine) ActiveProposal(taskID string) (quorum.Proposal, bool) {
	return e.quorum.Active(taskID)
}

// Bus returns the event bus the engine publishes on.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Registry returns the worker registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Ledger returns the resource ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Quorum returns the consensus quorum.
func (e *Engine) Quorum() *quorum.Quorum { return e.quorum }

// transition moves rec from one status to another if it is still in from.
// mutate runs under the record lock after the status changes.
func (e *Engine) transition(rec *record, from, to task.Status, reason string, mutate func(*record)) bool {
	rec.mu.Lock()
	if rec.t.Status != from || !task.CanTransition(from, to) {
		rec.mu.Unlock()
		return false
	}
	rec.t.Status = to
	rec.t.UpdatedAt = e.cfg.now()
	if mutate != nil {
		mutate(rec)
	}
	id, worker := rec.t.ID, rec.t.AssignedWorker
	rec.mu.Unlock()

	e.bus.Publish(event.NewTaskStatusChangedEvent(id, string(from), string(to), worker, reason))
	return true
}

// outcome describes a terminal transition.
type outcome struct {
	status  task.Status
	reason  string
	failure *task.Failure
	result  *task.ExecutionResult
}

func cancelled(reason string) outcome {
	return outcome{status: task.StatusCancelled, reason: reason}
}

func failed(code, message string) outcome {
	return outcome{
		status:  task.StatusFailed,
		reason:  message,
		failure: &task.Failure{Code: code, Message: message},
	}
}

// finish moves rec to a terminal status if it is currently in one of from
// (any non-terminal status when from is empty), then releases everything
// the task held.
func (e *Engine) finish(rec *record, from []task.Status, out outcome) bool {
	rec.mu.Lock()
	prev := rec.t.Status
	if prev.IsTerminal() || (len(from) > 0 && !slices.Contains(from, prev)) {
		rec.mu.Unlock()
		return false
	}
	rec.t.Status = out.status
	rec.t.UpdatedAt = e.cfg.now()
	rec.t.Failure = out.failure
	if out.result != nil {
		res := *out.result
		rec.t.Result = &res
	}
	token := rec.t.ReservationToken
	rec.t.ReservationToken = ""
	proposalID := rec.proposalID
	rec.proposalID = ""
	rec.stopTimersLocked()
	snap := rec.t.Clone()
	rec.mu.Unlock()

	log := e.logger.WithTask(snap.ID)
	if token != "" {
		if err := e.ledger.Release(token); err != nil {
			log.Warn("release failed", "token", token, "error", err)
		}
	}
	if proposalID != "" {
		_ = e.quorum.Withdraw(proposalID, out.reason)
	}

	e.bus.Publish(event.NewTaskStatusChangedEvent(snap.ID, string(prev), string(out.status), snap.AssignedWorker, out.reason))

	entry := audit.Entry{TaskID: snap.ID, Outcome: string(out.status), Details: out.reason}
	switch out.status {
	case task.StatusCompleted:
		e.stats.completed.Add(1)
		entry.Action = audit.ActionCompleted
		entry.Inputs = snap.Result
		log.Info("task completed", "worker_id", snap.AssignedWorker, "retries", snap.RetryCount)
	case task.StatusFailed:
		e.stats.failed.Add(1)
		if out.failure.Code == errors.CodeMaxRetriesExceeded {
			e.stats.deadLettered.Add(1)
		}
		entry.Action = audit.ActionFailed
		entry.Outcome = out.failure.Code
		entry.Inputs = out.failure
		e.bus.Publish(event.NewTaskDeadLetteredEvent(snap.ID, out.failure.Code, out.failure.Message))
		log.Warn("task failed", "code", out.failure.Code, "reason", out.failure.Message, "retries", snap.RetryCount)
	case task.StatusCancelled:
		e.stats.cancelled.Add(1)
		entry.Action = audit.ActionCancelled
		log.Info("task cancelled", "from", string(prev), "reason", out.reason)
	}
	e.audit(entry)
	return true
}

// retry sends a task that is still in from back to the queue after a
// transient failure. When the retry budget is spent the task fails with
// max_retries_exceeded. It reports false if the task had left from.
func (e *Engine) retry(rec *record, from task.Status, cause error) bool {
	rec.mu.Lock()
	if rec.t.Status != from || !task.CanTransition(from, task.StatusPending) {
		rec.mu.Unlock()
		return false
	}
	if err := e.queue.CheckRetry(rec.t); err != nil {
		rec.mu.Unlock()
		return e.finish(rec, []task.Status{from}, failed(errors.CodeOf(err), fmt.Sprintf("%v: last error: %v", err, cause)))
	}
	attempt := rec.t.RetryCount
	queued := rec.t.Clone()
	queued.ReservationToken = ""
	queued.AssignedWorker = ""

	rec.t.Status = task.StatusPending
	rec.t.UpdatedAt = e.cfg.now()
	rec.t.RetryCount++
	token := rec.t.ReservationToken
	rec.t.ReservationToken = ""
	rec.t.AssignedWorker = ""
	proposalID := rec.proposalID
	rec.proposalID = ""
	rec.stopTimersLocked()
	id := rec.t.ID
	rec.mu.Unlock()

	if token != "" {
		if err := e.ledger.Release(token); err != nil {
			e.logger.WithTask(id).Warn("release failed", "token", token, "error", err)
		}
	}
	if proposalID != "" {
		_ = e.quorum.Withdraw(proposalID, cause.Error())
	}
	e.bus.Publish(event.NewTaskStatusChangedEvent(id, string(from), string(task.StatusPending), "", cause.Error()))

	err := e.queue.Requeue(&queued, cause.Error())
	if err == nil {
		e.stats.requeued.Add(1)
		log := e.logger.WithTask(id)
		if errors.GetSeverity(cause) >= errors.SeverityError {
			log.Warn("task requeued", "retry_count", queued.RetryCount, "cause", cause.Error())
		} else {
			log.Info("task requeued", "retry_count", queued.RetryCount, "cause", cause.Error())
		}
		return true
	}

	rec.mu.Lock()
	if rec.t.Status == task.StatusPending {
		rec.t.RetryCount = attempt
	}
	rec.mu.Unlock()

	code := errors.CodeOf(err)
	e.finish(rec, []task.Status{task.StatusPending}, failed(code, fmt.Sprintf("%v: last error: %v", err, cause)))
	return true
}

func (e *Engine) audit(entry audit.Entry) {
	if err := e.cfg.recorder.Record(context.Background(), entry); err != nil {
		e.logger.WithTask(entry.TaskID).Warn("audit record failed", "action", entry.Action, "error", err)
	}
}
