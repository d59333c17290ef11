// Package ledger tracks resource capacity and the reservations held
// against it.
//
// A task reserves units before its assignment is proposed, the
// reservation is committed once the quorum approves, and it is released
// when the task reaches a terminal state. Reservations that are never
// committed carry a lease and are released by [Ledger.ExpireLeases] (or
// the [Ledger.Run] sweeper) once it lapses.
//
// For every resource, Available plus the units held by live reservations
// always equals Capacity.
package ledger
