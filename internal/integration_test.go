// Package internal contains integration tests that run the coordinator
// pipeline end to end: event bus, engine, quorum, validator pool and a
// local executor wired together the way the daemon wires them.
package internal

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/quorum/internal/coordination"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/executor"
	"github.com/Iron-Ham/quorum/internal/ledger"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
	"github.com/Iron-Ham/quorum/internal/taskqueue"
	"github.com/Iron-Ham/quorum/internal/testutil"
	"github.com/Iron-Ham/quorum/internal/validators"
)

var validatorIDs = []string{"v1", "v2", "v3"}

type harness struct {
	bus    *event.Bus
	engine *coordination.Engine
	local  *executor.Local
	pool   *validators.Pool
}

type harnessOpts struct {
	handler    executor.Handler
	policy     validators.Policy
	queueOpts  []taskqueue.Option
	workers    []string
	noValidate bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	if o.handler == nil {
		o.handler = executor.Echo
	}

	bus := event.NewBus()
	q, err := quorum.New(quorum.Config{
		Validators: validatorIDs,
		Threshold:  0.6,
		Timeout:    5 * time.Second,
	}, quorum.WithBus(bus))
	if err != nil {
		t.Fatalf("quorum.New() error = %v", err)
	}

	local := executor.NewLocal(nil, o.handler)
	engine, err := coordination.NewEngine(coordination.Config{
		Bus:      bus,
		Queue:    taskqueue.NewEventQueue(taskqueue.New(o.queueOpts...), bus),
		Quorum:   q,
		Executor: local,
	}, coordination.WithPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	local.SetSink(engine)

	if err := engine.RegisterResource(ledger.Resource{ID: "gpu-pool", Type: task.ResourceGPU, Capacity: 8}); err != nil {
		t.Fatalf("RegisterResource() error = %v", err)
	}
	for _, id := range o.workers {
		w := registry.Worker{
			ID:           id,
			Capabilities: []string{"render"},
			Capacity:     map[task.ResourceType]uint64{task.ResourceGPU: 8},
		}
		if err := engine.RegisterWorker(w); err != nil {
			t.Fatalf("RegisterWorker(%s) error = %v", id, err)
		}
		if err := engine.Heartbeat(id); err != nil {
			t.Fatalf("Heartbeat(%s) error = %v", id, err)
		}
	}

	h := &harness{bus: bus, engine: engine, local: local}

	ctx, cancel := context.WithCancel(context.Background())
	if !o.noValidate {
		var opts []validators.Option
		if o.policy != nil {
			opts = append(opts, validators.WithPolicy(o.policy))
		}
		h.pool = validators.NewPool(bus, engine, engine.Registry(), validatorIDs, opts...)
		before := bus.SubscriptionCount()
		done := make(chan struct{})
		go func() {
			defer close(done)
			h.pool.Start(ctx)
		}()
		t.Cleanup(func() { <-done })
		testutil.Eventually(t, time.Second, func() bool {
			return bus.SubscriptionCount() > before
		}, "validator pool never subscribed")
	}

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := engine.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		cancel()
		local.Close()
	})
	return h
}

// recordStatuses collects the target status of every change for taskID.
func (h *harness) recordStatuses(t *testing.T) func(taskID string) []task.Status {
	t.Helper()
	var mu sync.Mutex
	seen := make(map[string][]task.Status)
	id := h.bus.Subscribe(event.TypeTaskStatusChanged, func(e event.Event) {
		ev, ok := e.(event.TaskStatusChangedEvent)
		if !ok {
			return
		}
		mu.Lock()
		seen[ev.TaskID] = append(seen[ev.TaskID], task.Status(ev.To))
		mu.Unlock()
	})
	t.Cleanup(func() { h.bus.Unsubscribe(id) })
	return func(taskID string) []task.Status {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(seen[taskID])
	}
}

func (h *harness) waitFor(t *testing.T, id string, want task.Status) task.Task {
	t.Helper()
	var got task.Task
	testutil.Eventually(t, 3*time.Second, func() bool {
		tk, err := h.engine.GetTask(id)
		if err != nil {
			return false
		}
		got = tk
		return tk.Status == want
	}, "task %s never reached %s", id, want)
	return got
}

func (h *harness) waitReleased(t *testing.T) {
	t.Helper()
	testutil.Eventually(t, time.Second, func() bool {
		res, err := h.engine.GetResourceStatus("gpu-pool")
		return err == nil && res.Available == res.Capacity
	}, "gpu-pool reservation was not released")
}

func renderTask(id string, amount uint64) task.Task {
	return task.Task{
		ID:       id,
		Type:     "render",
		Priority: task.PriorityNormal,
		Requirements: task.Requirements{
			Capabilities: []string{"render"},
			ResourceID:   "gpu-pool",
			Amount:       amount,
		},
	}
}

func TestPipeline_StatusEventsInOrder(t *testing.T) {
	h := newHarness(t, harnessOpts{workers: []string{"w1"}})
	statuses := h.recordStatuses(t)

	id, err := h.engine.SubmitTask(renderTask("frame-1", 2))
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	done := h.waitFor(t, id, task.StatusCompleted)
	if done.AssignedWorker != "w1" {
		t.Errorf("AssignedWorker = %q, want w1", done.AssignedWorker)
	}
	if done.Result == nil || !done.Result.Success {
		t.Errorf("Result = %+v, want success", done.Result)
	}
	h.waitReleased(t)

	got := statuses(id)
	prefix := []task.Status{
		task.StatusReservePending,
		task.StatusProposalPending,
		task.StatusCommitted,
		task.StatusAssigned,
	}
	if len(got) < len(prefix)+1 || !slices.Equal(got[:len(prefix)], prefix) {
		t.Fatalf("status changes = %v, want prefix %v", got, prefix)
	}
	if last := got[len(got)-1]; last != task.StatusCompleted {
		t.Errorf("last status = %s, want completed", last)
	}
	// A fast handler may report before the running transition lands.
	if middle := got[len(prefix) : len(got)-1]; len(middle) > 0 && !slices.Equal(middle, []task.Status{task.StatusRunning}) {
		t.Errorf("unexpected statuses between assigned and completed: %v", middle)
	}

	if approvals, _ := h.pool.Counts(); approvals < 2 {
		t.Errorf("approvals = %d, want at least 2", approvals)
	}
	stats := h.engine.Stats()
	if stats.Completed != 1 || stats.Submitted != 1 {
		t.Errorf("stats = %+v, want 1 submitted and 1 completed", stats)
	}
}

func TestPipeline_RejectedCandidateFallsThrough(t *testing.T) {
	h := newHarness(t, harnessOpts{
		workers: []string{"w1", "w2"},
		policy: func(p event.ProposalOpenedEvent) bool {
			return p.CandidateWorker != "w1"
		},
	})

	var mu sync.Mutex
	var resolved []event.ProposalResolvedEvent
	h.bus.Subscribe(event.TypeProposalResolved, func(e event.Event) {
		if ev, ok := e.(event.ProposalResolvedEvent); ok {
			mu.Lock()
			resolved = append(resolved, ev)
			mu.Unlock()
		}
	})

	id, err := h.engine.SubmitTask(renderTask("frame-2", 1))
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	done := h.waitFor(t, id, task.StatusCompleted)
	if done.AssignedWorker != "w2" {
		t.Errorf("AssignedWorker = %q, want w2", done.AssignedWorker)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(resolved) == 0 {
		t.Fatal("no proposal resolved events published")
	}
	if last := resolved[len(resolved)-1]; last.State != string(quorum.StateCommitted) {
		t.Errorf("last proposal state = %s, want committed", last.State)
	}
	for _, ev := range resolved[:len(resolved)-1] {
		if ev.State != string(quorum.StateRejected) {
			t.Errorf("earlier proposal state = %s, want rejected", ev.State)
		}
	}
}

func TestPipeline_AllCandidatesRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{
		workers: []string{"w1"},
		policy:  func(event.ProposalOpenedEvent) bool { return false },
	})

	id, err := h.engine.SubmitTask(renderTask("frame-3", 4))
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	failed := h.waitFor(t, id, task.StatusFailed)
	if failed.Failure == nil || failed.Failure.Code != errors.CodeConsensusRejected {
		t.Errorf("Failure = %+v, want code %s", failed.Failure, errors.CodeConsensusRejected)
	}
	h.waitReleased(t)
}

func TestPipeline_CancelRunningTask(t *testing.T) {
	h := newHarness(t, harnessOpts{
		workers: []string{"w1"},
		handler: executor.Sleep(time.Minute),
	})
	statuses := h.recordStatuses(t)

	id, err := h.engine.SubmitTask(renderTask("long-render", 3))
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	testutil.Eventually(t, 3*time.Second, func() bool {
		return h.local.Running() == 1
	}, "task never started on the local executor")

	if err := h.engine.CancelTask(id); err != nil {
		t.Fatalf("CancelTask() error = %v", err)
	}
	h.waitFor(t, id, task.StatusCancelled)
	h.waitReleased(t)

	if !slices.Contains(statuses(id), task.StatusCancelRequested) {
		t.Errorf("status changes = %v, want cancel_requested before cancelled", statuses(id))
	}
	testutil.Eventually(t, time.Second, func() bool {
		return h.local.Running() == 0
	}, "executor still running the cancelled task")

	// Cancelling again is a no-op.
	if err := h.engine.CancelTask(id); err != nil {
		t.Errorf("second CancelTask() error = %v", err)
	}
	if got := h.engine.Stats().Cancelled; got != 1 {
		t.Errorf("Cancelled = %d, want 1", got)
	}
}

func TestPipeline_DeadLetterWithoutWorkers(t *testing.T) {
	h := newHarness(t, harnessOpts{
		queueOpts:  []taskqueue.Option{taskqueue.WithMaxRetries(2)},
		noValidate: true,
	})

	dead := make(chan event.TaskDeadLetteredEvent, 1)
	h.bus.Subscribe(event.TypeTaskDeadLettered, func(e event.Event) {
		if ev, ok := e.(event.TaskDeadLetteredEvent); ok {
			select {
			case dead <- ev:
			default:
			}
		}
	})

	id, err := h.engine.SubmitTask(renderTask("orphan", 1))
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	failed := h.waitFor(t, id, task.StatusFailed)
	if failed.Failure == nil || failed.Failure.Code != errors.CodeMaxRetriesExceeded {
		t.Errorf("Failure = %+v, want code %s", failed.Failure, errors.CodeMaxRetriesExceeded)
	}

	select {
	case ev := <-dead:
		if ev.TaskID != id {
			t.Errorf("dead-lettered TaskID = %q, want %q", ev.TaskID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("no dead-letter event published")
	}
	h.waitReleased(t)
	if got := h.engine.Stats().DeadLettered; got != 1 {
		t.Errorf("DeadLettered = %d, want 1", got)
	}
}
