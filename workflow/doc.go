// Package workflow executes the calendar mutation protocols and owns
// their execution records.
//
// A protocol is a fixed step sequence driven on a background goroutine;
// the caller receives the running record synchronously and polls for
// the rest. Two protocols exist.
//
// Single-item mutation (create, update, delete):
//
//	preSync → mutate → postSync → postSync2 → done
//
// The agent syncs before the mutation so it never lands on stale state,
// and twice after so the change propagates. A pre-sync failure aborts
// the protocol before anything was touched. A post-sync failure after
// the mutation was recorded keeps the mutation result on the record
// alongside the error.
//
// Bulk delete:
//
//	querySql → delete → postSync → done
//
// Candidates resolve batch by batch onto a query job, then fan out as
// independent delete jobs. One failing candidate lands in the error
// tally and never aborts its siblings; the bulk record finishes done
// with a partial-failure result unless the query or post-sync step
// itself failed.
//
// # State Machine
//
// A [Workflow] moves through these states:
//
//	running → done
//	running → error
//
// The step label advances monotonically through the protocol sequence
// and stops at the failing step on error, so a polled record always
// shows how far execution got.
//
// # Key Types
//
//   - [Workflow] — one protocol execution record
//   - [Runner] — creates records and drives protocols to a terminal state
//   - [Store] — persistence contract
//   - [Emitter] — lifecycle notifications, satisfied by hook.Registry
package workflow
