// Package job tracks single asynchronous operations against the external
// provider: one Job per mutate or query call, polled by id.
//
// The Tracker is the registry. It assigns ids, persists records through a
// Store, and holds each job's completion latch exclusively until the job
// reaches a terminal state, so the handle cannot be reclaimed while the
// operation is in flight. Query-style jobs accumulate partial results
// batch by batch, visible to pollers alongside the pending state.
package job
