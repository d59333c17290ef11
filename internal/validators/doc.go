// Package validators provides an in-process validator pool that votes on
// assignment proposals.
//
// A [Pool] subscribes to proposal.opened events on the event bus. For each
// proposal, every validator in the pool casts one vote: approve when the
// candidate worker is healthy in the registry and the optional [Policy]
// accepts, reject otherwise. Votes are cast concurrently.
//
// # Usage
//
//	pool := validators.NewPool(bus, engine, engine.Registry(), q.Validators(),
//	    validators.WithPolicy(func(p event.ProposalOpenedEvent) bool {
//	        return !strings.HasPrefix(p.CandidateWorker, "canary-")
//	    }),
//	)
//	go pool.Start(ctx)
//	defer pool.Stop()
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package validators
