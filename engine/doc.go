// Package engine wires all Pendulum subsystems together and provides
// the primary application-level API for submitting calendar mutations.
//
// The engine package exists to break a fundamental import cycle: the
// root pendulum package defines Entity and Config (imported by job,
// workflow, idempotency, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithItemStore(items),
//	    engine.WithProvider(bridge),
//	    engine.WithTrigger(agent),
//	    engine.WithConfig(cfg),
//	)
//
// # Submitting Mutations
//
//	receipt, err := eng.CreateEvent(ctx, engine.CreateEventRequest{
//	    Calendar: "Home",
//	    Title:    "Dentist",
//	    AllDay:   true,
//	    Date:     "2026-02-04",
//	})
//
// The receipt carries the workflow id; poll eng.Workflow (or the HTTP
// API) until the record reaches a terminal state. An identical request
// submitted while the first is in flight returns the same workflow id
// with AlreadyCreated set.
//
// # Options
//
//   - [WithStore] — record backend (job, workflow, idempotency state)
//   - [WithItemStore] — read-only calendar item store
//   - [WithProvider] — asynchronous mutation provider
//   - [WithTrigger] — sync agent trigger
//   - [WithConfig] — timing knobs
//   - [WithLogger] — structured logger shared by all subsystems
//   - [WithHooks] — lifecycle hook registry
//   - [WithClock] — time source override
package engine
