// Package quorum decides task assignments by threshold vote.
//
// A [Proposal] names a task, a candidate worker and the reservation that
// backs the assignment. Validators from a fixed set each vote once. The
// proposal commits when approvals reach ceil(threshold * validators), is
// rejected as soon as enough validators object that the threshold can no
// longer be met, and times out when its deadline passes first. Each
// proposal resolves exactly once; late votes are ignored and
// [Quorum.Await] wakes every waiter.
//
// Example:
//
//	q, err := quorum.New(quorum.Config{
//	    Validators: []string{"v1", "v2", "v3"},
//	    Threshold:  0.67,
//	    Timeout:    5 * time.Second,
//	}, quorum.WithBus(bus))
//	p, err := q.Propose(taskID, "worker-1", token)
//	// validators call q.CastVote from any goroutine
//	outcome, err := q.Await(ctx, p.ID)
package quorum
