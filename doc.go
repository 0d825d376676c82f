// Package pendulum provides an asynchronous orchestration engine for
// mutating calendar state owned by an external synchronization agent.
// It offers deduplicated mutation workflows, polled job tracking, and a
// bounded pre-sync/write/post-sync protocol that never blocks the caller
// on the agent's unreliable write path.
//
// Pendulum is designed as a library, not a service. Import it, configure
// a store and the external adapters (item store, mutation provider, sync
// trigger), and submit mutations through the engine.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithItemStore(items),
//	    engine.WithProvider(bridge),
//	    engine.WithTrigger(agent),
//	)
//
// # Architecture
//
// Pendulum follows a composable store pattern where each subsystem (job,
// workflow, idempotency) defines its own store interface. A single
// backend implements all of them.
//
// Mutations run as workflows on background goroutines: the caller
// receives a workflow id synchronously and polls for the terminal state.
// Every external call is tracked as a job whose completion the engine
// observes through a deadline guard that never cancels the underlying
// operation.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package pendulum
