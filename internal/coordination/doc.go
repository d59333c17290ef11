// Package coordination provides the Engine that drives tasks from
// admission to a terminal state.
//
// Each dequeued task passes through these stages, every one a
// compare-and-set on the task's status:
//
//	pending → reserve_pending → proposal_pending → committed → assigned → running → completed
//
// Along the way the engine checks the task's proof (for gated types),
// picks a candidate worker from the registry, reserves resource units in
// the ledger, and asks the quorum to approve the assignment. Transient
// failures release the reservation and requeue the task at the front of
// its band; once the retry budget is spent the task fails with
// max_retries_exceeded. Any non-terminal task can be cancelled.
//
// Usage:
//
//	q, err := quorum.New(quorum.Config{Validators: ids, Threshold: 0.67})
//	if err != nil {
//	    return err
//	}
//	engine, err := coordination.NewEngine(coordination.Config{
//	    Bus:      bus,
//	    Quorum:   q,
//	    Executor: exec,
//	}, coordination.WithSchedulerWorkers(4))
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Stop()
//
//	id, err := engine.SubmitTask(task.Task{
//	    Type:         "render",
//	    Requirements: task.Requirements{ResourceID: "gpu-pool", Amount: 2},
//	})
package coordination
