// Package registry tracks worker nodes and picks candidates for task
// assignments.
//
// A worker's health is derived on every read from the age of its last
// heartbeat: Unknown before the first one, Unhealthy once the heartbeat
// timeout has passed, Healthy otherwise. An optional [HealthSource] can
// downgrade a Healthy worker to Degraded or Unhealthy but never upgrade
// it. Only Healthy workers are offered by [Registry.SelectCandidate].
//
// Workers are stored in fixed shards keyed by an FNV hash of the worker
// ID, each with its own RWMutex.
package registry
