// Package event provides a pub-sub event bus for decoupled inter-component
// communication inside the quorum daemon.
//
// The coordination engine, queue, ledger, registry and quorum publish
// events; validators, the audit journal and metrics subscribe. Publishers
// never know who is listening.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Task lifecycle:
//   - [TaskSubmittedEvent], [TaskRequeuedEvent], [TaskStatusChangedEvent], [TaskDeadLetteredEvent]
//   - [QueueDepthChangedEvent]
//
// Consensus:
//   - [ProposalOpenedEvent]: broadcast to validators when voting begins
//   - [VoteCastEvent], [ProposalResolvedEvent]
//
// Resources and workers:
//   - [ReservationExpiredEvent], [WorkerHealthChangedEvent]
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously on
// the publisher's goroutine and are protected against panics; a handler
// that must block (for example a validator casting a vote) should start
// its own goroutine.
package event
