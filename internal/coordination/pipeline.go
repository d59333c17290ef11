package coordination

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/Iron-Ham/quorum/internal/audit"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/proof"
	"github.com/Iron-Ham/quorum/internal/quorum"
	"github.com/Iron-Ham/quorum/internal/registry"
	"github.com/Iron-Ham/quorum/internal/task"
)

// process drives one dequeued task until it is dispatched, requeued or
// finished. A panic fails the task and leaves the scheduler running.
func (e *Engine) process(ctx context.Context, queued task.Task) {
	v, ok := e.tasks.Load(queued.ID)
	if !ok {
		e.logger.Warn("dequeued unknown task", "task_id", queued.ID)
		return
	}
	rec := v.(*record)
	log := e.logger.WithTask(queued.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in task pipeline", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			e.finish(rec, nil, failed(errors.CodeInternal, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	if !e.transition(rec, task.StatusPending, task.StatusReservePending, "dequeued", nil) {
		return
	}
	t := rec.snapshot()

	if e.cfg.proofGatedTypes[t.Type] {
		if verdict := e.checkProof(t); !verdict.Valid {
			e.finish(rec, []task.Status{task.StatusReservePending},
				failed(errors.CodeProofRejected, "proof rejected: "+verdict.Reason))
			return
		}
	}

	res, err := e.ledger.Get(t.Requirements.ResourceID)
	if err != nil {
		e.finish(rec, []task.Status{task.StatusReservePending}, failed(errors.CodeOf(err), err.Error()))
		return
	}
	need := registry.Need{
		Type:         res.Type,
		Amount:       t.Requirements.Amount,
		Capabilities: t.Requirements.Capabilities,
	}
	exclude := make(map[string]bool)

	worker, ok := e.registry.SelectCandidate(need, exclude)
	if !ok {
		e.retry(rec, task.StatusReservePending,
			errors.NewTaskError("no eligible worker", errors.ErrWorkerUnavailable).WithTaskID(t.ID).WithStage("select"))
		return
	}

	token, err := e.ledger.ReserveWait(ctx, res.ID, t.Requirements.Amount, t.ID, e.cfg.reserveWait)
	if err != nil {
		if ctx.Err() == nil && !errors.IsRetryable(err) {
			e.finish(rec, []task.Status{task.StatusReservePending}, failed(errors.CodeOf(err), err.Error()))
			return
		}
		e.retry(rec, task.StatusReservePending, err)
		return
	}
	if !e.transition(rec, task.StatusReservePending, task.StatusProposalPending, "reserved",
		func(r *record) { r.t.ReservationToken = token }) {
		_ = e.ledger.Release(token)
		return
	}

	worker, ok = e.reachConsensus(ctx, rec, need, worker, token, exclude)
	if !ok {
		return
	}

	if !e.transition(rec, task.StatusProposalPending, task.StatusCommitted, "consensus reached", nil) {
		return
	}
	if err := e.ledger.Commit(token); err != nil {
		e.retry(rec, task.StatusCommitted, err)
		return
	}

	addr, err := e.cfg.resolver.ResolveWorkerAddress(worker)
	if err != nil {
		e.retry(rec, task.StatusCommitted,
			errors.NewWorkerError("address not resolved", fmt.Errorf("%w: %v", errors.ErrWorkerUnavailable, err)).WithWorkerID(worker))
		return
	}

	var proposalID string
	deadline := e.cfg.now().Add(e.cfg.maxExecutionTime)
	if !e.transition(rec, task.StatusCommitted, task.StatusAssigned, "dispatched", func(r *record) {
		r.t.AssignedWorker = worker
		proposalID = r.proposalID
	}) {
		return
	}
	e.audit(audit.Entry{
		Action:  audit.ActionDispatch,
		TaskID:  t.ID,
		Outcome: worker,
		Details: "proposal " + proposalID + " address " + addr,
		Inputs:  map[string]any{"worker": worker, "address": addr, "reservation": token},
	})

	a := Assignment{
		TaskID:           t.ID,
		WorkerID:         worker,
		Address:          addr,
		Type:             t.Type,
		Payload:          t.Payload,
		ProposalID:       proposalID,
		ReservationToken: token,
		Deadline:         deadline,
	}
	if err := e.executor.Submit(ctx, a); err != nil {
		if !errors.Is(err, errors.ErrExecutorRejected) {
			err = fmt.Errorf("%w: %v", errors.ErrExecutorRejected, err)
		}
		log.Warn("executor rejected assignment", "worker_id", worker, "error", err)
		e.retry(rec, task.StatusAssigned, errors.NewWorkerError("dispatch refused", err).WithWorkerID(worker).WithEndpoint(addr))
		return
	}

	if !e.transition(rec, task.StatusAssigned, task.StatusRunning, "accepted", func(r *record) {
		r.execTimer = time.AfterFunc(e.cfg.maxExecutionTime, func() {
			e.executionTimedOut(rec, worker)
		})
	}) {
		// A cancel or requeue during Submit reached the executor before the
		// worker held the assignment; send it again now that it does.
		switch rec.snapshot().Status {
		case task.StatusRunning, task.StatusCompleted, task.StatusFailed:
		default:
			e.recall(rec, t.ID, worker)
		}
	}
}

// recall asks the executor to stop the task's assignment on worker. An
// acknowledgement finishes a pending cancel.
func (e *Engine) recall(rec *record, id, worker string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.cancelTimeout)
	defer cancel()
	acked, err := e.executor.Cancel(ctx, id, worker)
	if err != nil {
		e.logger.WithTask(id).Warn("executor recall failed", "worker_id", worker, "error", err)
		return
	}
	if acked {
		e.finish(rec, []task.Status{task.StatusCancelRequested}, cancelled("cancel acknowledged"))
	}
}

func (e *Engine) checkProof(t task.Task) Verdict {
	if t.Proof == nil {
		return Verdict{Reason: "task type " + t.Type + " requires a proof"}
	}
	return proof.Check(e.cfg.validator, *t.Proof, t.Payload)
}

// reachConsensus proposes worker for the task and re-proposes to the next
// candidate on each rejection, keeping the same reservation. It returns
// the approved worker, or false once the task was requeued or finished.
func (e *Engine) reachConsensus(ctx context.Context, rec *record, need registry.Need, worker, token string, exclude map[string]bool) (string, bool) {
	for {
		p, err := e.quorum.Propose(rec.snapshot().ID, worker, token)
		if err != nil {
			e.retry(rec, task.StatusProposalPending, err)
			return "", false
		}

		rec.mu.Lock()
		open := rec.t.Status == task.StatusProposalPending
		if open {
			rec.proposalID = p.ID
		}
		id := rec.t.ID
		rec.mu.Unlock()
		if !open {
			_ = e.quorum.Withdraw(p.ID, "task no longer awaiting consensus")
			return "", false
		}

		out, err := e.quorum.Await(ctx, p.ID)
		if err != nil {
			_ = e.quorum.Withdraw(p.ID, "engine stopping")
			e.retry(rec, task.StatusProposalPending, err)
			return "", false
		}
		e.audit(audit.Entry{
			Action:  audit.ActionProposalResolved,
			TaskID:  id,
			Outcome: string(out.State),
			Details: fmt.Sprintf("proposal %s worker %s for=%d against=%d: %s", p.ID, worker, out.For, out.Against, out.Reason),
			Inputs:  out,
		})

		switch out.State {
		case quorum.StateCommitted:
			return worker, true
		case quorum.StateTimedOut:
			e.retry(rec, task.StatusProposalPending,
				errors.NewTaskError("proposal "+p.ID+" expired", errors.ErrConsensusTimeout).
					WithTaskID(id).WithStage("propose").WithWorker(worker))
			return "", false
		}

		// Rejected. A cancel withdraws the proposal, which lands here too.
		if st, _ := e.GetTaskStatus(id); st != task.StatusProposalPending {
			return "", false
		}
		exclude[worker] = true
		next, ok := e.registry.SelectCandidate(need, exclude)
		if !ok {
			e.finish(rec, []task.Status{task.StatusProposalPending},
				failed(errors.CodeConsensusRejected, fmt.Sprintf("%v: no candidate left after %d rejected", errors.ErrConsensusRejected, len(exclude))))
			return "", false
		}
		e.logger.WithTask(id).Info("proposal rejected, trying next candidate", "rejected", worker, "next", next)
		worker = next
	}
}

// executionTimedOut treats a missing result as a failed execution.
func (e *Engine) executionTimedOut(rec *record, worker string) {
	rec.mu.Lock()
	st, assigned, id := rec.t.Status, rec.t.AssignedWorker, rec.t.ID
	rec.mu.Unlock()
	if (st != task.StatusAssigned && st != task.StatusRunning) || assigned != worker {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.cancelTimeout)
	defer cancel()
	if _, err := e.executor.Cancel(ctx, id, worker); err != nil {
		e.logger.WithTask(id).Debug("cancel after execution timeout failed", "worker_id", worker, "error", err)
	}
	e.registry.RecordOutcome(worker, false)
	e.retry(rec, st, errors.NewTimeoutError("result from "+worker, e.cfg.maxExecutionTime).
		WithCause(errors.ErrExecutionFailed))
}

// CancelTask cancels a task. Before consensus commits, the reservation is
// released and the task is cancelled at once. Once dispatched, the worker
// is asked to stop and the task waits in cancel_requested for the
// acknowledgement, a late result, or the cancel timeout. Cancelling a
// cancelled task is a no-op; cancelling a completed or failed task fails
// with ErrInvalidTransition.
func (e *Engine) CancelTask(taskID string) error {
	rec, err := e.lookup(taskID)
	if err != nil {
		return err
	}

	for {
		rec.mu.Lock()
		st := rec.t.Status
		switch st {
		case task.StatusCompleted, task.StatusFailed:
			rec.mu.Unlock()
			return fmt.Errorf("%w: task %s is %s", errors.ErrInvalidTransition, taskID, st)
		case task.StatusCancelled, task.StatusCancelRequested:
			rec.mu.Unlock()
			return nil
		case task.StatusAssigned, task.StatusRunning:
			rec.mu.Unlock()
			return e.cancelDispatched(rec, st)
		}
		rec.mu.Unlock()

		if e.finish(rec, []task.Status{st}, cancelled("cancelled by request")) {
			if st == task.StatusPending {
				e.queue.Remove(taskID)
			}
			return nil
		}
	}
}

func (e *Engine) cancelDispatched(rec *record, from task.Status) error {
	var worker, id string
	ok := e.transition(rec, from, task.StatusCancelRequested, "cancel requested", func(r *record) {
		worker, id = r.t.AssignedWorker, r.t.ID
		r.stopTimersLocked()
		r.cancelTimer = time.AfterFunc(e.cfg.cancelTimeout, func() {
			e.finish(rec, []task.Status{task.StatusCancelRequested}, cancelled("cancel timeout"))
		})
	})
	if !ok {
		return e.CancelTask(rec.snapshot().ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.cancelTimeout)
	defer cancel()
	acked, err := e.executor.Cancel(ctx, id, worker)
	if err != nil {
		e.logger.WithTask(id).Warn("executor cancel failed", "worker_id", worker, "error", err)
		return nil
	}
	if acked {
		e.finish(rec, []task.Status{task.StatusCancelRequested}, cancelled("cancel acknowledged"))
	}
	return nil
}

// AcknowledgeCancel records a worker's confirmation that it stopped a
// task whose cancellation was requested.
func (e *Engine) AcknowledgeCancel(taskID string) error {
	rec, err := e.lookup(taskID)
	if err != nil {
		return err
	}
	if e.finish(rec, []task.Status{task.StatusCancelRequested}, cancelled("cancel acknowledged")) {
		return nil
	}
	if st, _ := e.GetTaskStatus(taskID); st == task.StatusCancelled {
		return nil
	}
	return fmt.Errorf("%w: task %s has no pending cancellation", errors.ErrInvalidTransition, taskID)
}

// ReportResult accepts a worker's execution result. Success completes the
// task; failure requeues it unless its retry budget is spent. A result for
// a task awaiting cancellation completes the cancellation instead.
func (e *Engine) ReportResult(res task.ExecutionResult) error {
	rec, err := e.lookup(res.TaskID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	st, worker := rec.t.Status, rec.t.AssignedWorker
	rec.mu.Unlock()

	dispatched := []task.Status{task.StatusAssigned, task.StatusRunning}
	switch st {
	case task.StatusCancelRequested:
		e.finish(rec, []task.Status{task.StatusCancelRequested}, cancelled("result arrived after cancel"))
		return nil
	case task.StatusAssigned, task.StatusRunning:
	default:
		return fmt.Errorf("%w: task %s is %s", errors.ErrInvalidTransition, res.TaskID, st)
	}
	if res.WorkerID != "" && res.WorkerID != worker {
		return fmt.Errorf("%w: result from %s but task %s is assigned to %s",
			errors.ErrInvalidTransition, res.WorkerID, res.TaskID, worker)
	}
	res.WorkerID = worker

	if res.Success {
		if !e.finish(rec, dispatched, outcome{status: task.StatusCompleted, reason: "completed", result: &res}) {
			return fmt.Errorf("%w: task %s changed state while reporting", errors.ErrInvalidTransition, res.TaskID)
		}
		e.registry.RecordOutcome(worker, true)
		e.stats.executionNanos.Add(int64(res.Duration))
		return nil
	}

	e.registry.RecordOutcome(worker, false)
	rec.mu.Lock()
	if slices.Contains(dispatched, rec.t.Status) {
		r := res
		rec.t.Result = &r
	}
	rec.mu.Unlock()

	msg := res.Error
	if msg == "" {
		msg = "worker reported failure"
	}
	cause := fmt.Errorf("%w: %s", errors.ErrExecutionFailed, msg)
	for _, from := range dispatched {
		if e.retry(rec, from, cause) {
			break
		}
	}
	return nil
}
