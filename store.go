package pendulum

import "context"

// Store is the minimal lifecycle contract every backend satisfies.
// Subsystem contracts (job.Store, workflow.Store, idempotency.Store) are
// defined next to the records they persist; the engine type-asserts the
// configured backend against each one it needs.
type Store interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
