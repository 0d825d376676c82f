// Package engine wires all Pendulum subsystems together: the job
// tracker, the workflow runner, the idempotency cache, the candidate
// resolver, and the external adapters (item store, mutation provider,
// sync trigger). It exposes the named operations callers submit
// mutations through.
//
// This package exists to break the import cycle: the root pendulum
// package defines Entity, Config, and the error sentinels (imported by
// job, workflow, etc.) and so cannot import those packages back. The
// engine package sits above all subsystem packages and below the
// application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/hook"
	"github.com/xraph/pendulum/idempotency"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/provider"
	"github.com/xraph/pendulum/resolver"
	"github.com/xraph/pendulum/syncagent"
	"github.com/xraph/pendulum/workflow"
)

// Engine coordinates mutation submission end to end: validate, check
// the provider, claim the idempotency fingerprint, then hand the
// protocol to the workflow runner. Reads go straight to the stores.
type Engine struct {
	cfg    pendulum.Config
	logger *slog.Logger
	now    func() time.Time

	store    pendulum.Store
	jobStore job.Store
	wfStore  workflow.Store

	items    resolver.ItemStore
	provider provider.Provider
	trigger  syncagent.Trigger
	hooks    *hook.Registry

	tracker  *job.Tracker
	runner   *workflow.Runner
	cache    *idempotency.Cache
	resolver *resolver.Resolver

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the record backend. The store must also implement
// job.Store, workflow.Store, and idempotency.Store.
func WithStore(s pendulum.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithItemStore sets the read-only calendar item store queried for
// calendars and bulk candidates.
func WithItemStore(s resolver.ItemStore) Option {
	return func(e *Engine) { e.items = s }
}

// WithProvider sets the asynchronous mutation provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithTrigger sets the sync agent trigger. If not set, syncagent.Nop
// is used and protocol sync steps become no-ops.
func WithTrigger(t syncagent.Trigger) Option {
	return func(e *Engine) { e.trigger = t }
}

// WithConfig overrides the timing knobs. Use pendulum.DefaultConfig as
// the starting point.
func WithConfig(cfg pendulum.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger shared by all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHooks sets the hook registry that observes workflow and job
// lifecycle events.
func WithHooks(r *hook.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithClock overrides the time source used for record timestamps,
// idempotency expiry, and the retention sweep.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine from its parts. A store, an item store, and a
// provider are required; everything else has a default.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    pendulum.DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, pendulum.ErrNoStore
	}

	if e.items == nil {
		return nil, fmt.Errorf("pendulum: engine requires an item store")
	}

	if e.provider == nil {
		return nil, fmt.Errorf("pendulum: engine requires a mutation provider")
	}

	if e.trigger == nil {
		e.trigger = syncagent.Nop{}
	}

	js, ok := e.store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("pendulum: store does not implement job.Store")
	}

	ws, ok := e.store.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("pendulum: store does not implement workflow.Store")
	}

	es, ok := e.store.(idempotency.Store)
	if !ok {
		return nil, fmt.Errorf("pendulum: store does not implement idempotency.Store")
	}

	e.jobStore = js
	e.wfStore = ws

	trackerOpts := []job.TrackerOption{
		job.WithLogger(e.logger),
		job.WithClock(e.now),
	}
	if e.hooks != nil {
		trackerOpts = append(trackerOpts, job.WithResolveObserver(e.hooks.EmitJobResolved))
	}
	e.tracker = job.NewTracker(js, trackerOpts...)

	e.cache = idempotency.NewCache(es, e.cfg.IdempotencyTTL, idempotency.WithClock(e.now))
	e.resolver = resolver.New(e.items, resolver.WithLocation(e.cfg.Location))

	var emitter workflow.Emitter = workflow.NopEmitter{}
	if e.hooks != nil {
		emitter = e.hooks
	}

	e.runner = workflow.NewRunner(ws, e.tracker, e.provider, e.resolver, e.trigger,
		workflow.WithEmitter(emitter),
		workflow.WithLogger(e.logger),
		workflow.WithClock(e.now),
		workflow.WithSettleWait(e.cfg.SettleWait),
		workflow.WithProviderDeadline(e.cfg.ProviderDeadline),
		workflow.WithBulkParallelism(e.cfg.BulkParallelism),
	)

	return e, nil
}

// Start launches the retention sweep. Mutation submission works before
// Start; only the background sweep needs it.
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	e.running = true
	e.stopCh = make(chan struct{})

	if e.cfg.SweepInterval > 0 && e.cfg.Retention > 0 {
		e.wg.Add(1)
		go e.sweepLoop()
	}

	e.logger.Info("engine started",
		slog.Duration("retention", e.cfg.Retention),
		slog.Duration("sweep_interval", e.cfg.SweepInterval),
	)

	return nil
}

// Stop halts the retention sweep and waits for it to exit, bounded by
// ctx. In-flight workflows are not interrupted; they run to their
// terminal state on their own goroutines.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()

		return nil
	}

	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.logger.Info("engine stopped")

	return nil
}

// InFlight reports how many tracked jobs have not yet resolved.
func (e *Engine) InFlight() int {
	return e.tracker.InFlight()
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() pendulum.Config {
	return e.cfg
}

// Tracker returns the job tracker for direct watch access.
func (e *Engine) Tracker() *job.Tracker {
	return e.tracker
}

// Ping verifies the record store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweep(context.Background())
		}
	}
}

// sweep purges terminal records older than the retention window.
// Pending jobs and running workflows are never touched.
func (e *Engine) sweep(ctx context.Context) {
	cutoff := e.now().UTC().Add(-e.cfg.Retention)

	jobs, err := e.jobStore.PurgeTerminalJobs(ctx, cutoff)
	if err != nil {
		e.logger.Error("job retention sweep failed", slog.String("error", err.Error()))
	}

	workflows, err := e.wfStore.PurgeTerminalWorkflows(ctx, cutoff)
	if err != nil {
		e.logger.Error("workflow retention sweep failed", slog.String("error", err.Error()))
	}

	if jobs+workflows > 0 {
		e.logger.Info("retention sweep purged records",
			slog.Int("jobs", jobs),
			slog.Int("workflows", workflows),
			slog.Time("cutoff", cutoff),
		)
	}
}

// ready verifies the provider can accept calls before any stateful
// step runs. Failures always classify as dependency unavailability.
func (e *Engine) ready(ctx context.Context) error {
	if err := e.provider.Ready(ctx); err != nil {
		if errors.Is(err, pendulum.ErrDependencyUnavailable) {
			return err
		}

		return fmt.Errorf("%w: %v", pendulum.ErrDependencyUnavailable, err)
	}

	return nil
}
