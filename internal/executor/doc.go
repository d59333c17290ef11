// Package executor runs engine assignments inside the daemon process.
//
// [Local] implements coordination.Executor by calling a [Handler] in a
// goroutine per assignment and reporting the outcome to a result sink,
// normally the engine itself. [Heartbeater] keeps the workers Local
// serves marked healthy in the registry.
package executor
