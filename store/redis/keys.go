package redis

// Redis key naming conventions for Pendulum data.
// All keys are prefixed with "pendulum:" to avoid collisions.

const keyPrefix = "pendulum:"

// ── Job keys ──

// jobKey returns the key for a job entity: pendulum:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobResultsKey returns the List key holding a job's accumulated
// results: pendulum:job:{id}:results
func jobResultsKey(id string) string { return keyPrefix + "job:" + id + ":results" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// jobDoneKey is the Sorted Set of terminal job IDs scored by DoneAt,
// consumed by the retention sweep.
const jobDoneKey = keyPrefix + "job_done"

// ── Workflow keys ──

// workflowKey returns the key for a workflow entity: pendulum:workflow:{id}
func workflowKey(id string) string { return keyPrefix + "workflow:" + id }

// workflowIDsKey is the Set tracking all workflow IDs for enumeration.
const workflowIDsKey = keyPrefix + "workflow_ids"

// workflowDoneKey is the Sorted Set of terminal workflow IDs scored by
// DoneAt, consumed by the retention sweep.
const workflowDoneKey = keyPrefix + "workflow_done"

// ── Idempotency keys ──

// entryKey returns the key for an idempotency entry: pendulum:entry:{fingerprint}
func entryKey(fingerprint string) string { return keyPrefix + "entry:" + fingerprint }
