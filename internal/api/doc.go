// Package api exposes the coordination engine over HTTP and provides a
// client for it.
//
// Routes:
//
//	POST /tasks                       submit a task
//	GET  /tasks?status=               list tasks
//	GET  /tasks/{id}                  task snapshot
//	POST /tasks/{id}/cancel           cancel a task
//	POST /tasks/{id}/cancel/ack       worker confirms a cancellation
//	POST /tasks/{id}/result           worker reports an execution result
//	GET  /tasks/{id}/proposal         the task's open proposal
//	GET  /tasks/{id}/audit            recorded decisions (audit enabled)
//	GET  /audit?limit=                recent decisions (audit enabled)
//	GET  /queue                       queue depth per priority band
//	GET  /resources, /resources/{id}  resource status
//	POST /resources                   register a resource
//	GET  /workers                     registered workers
//	POST /workers                     register a worker
//	POST /workers/{id}/heartbeat      heartbeat, optionally with load
//	GET  /proposals/{id}              proposal and votes
//	POST /proposals/{id}/votes        cast a vote
//	GET  /stats                       engine counters
//	GET  /health                      liveness
//
// Errors are returned as {"error": ..., "code": ...} where code is the
// stable failure code from the errors package.
package api
