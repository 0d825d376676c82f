package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/guard"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/provider"
	"github.com/xraph/pendulum/resolver"
	"github.com/xraph/pendulum/syncagent"
)

// Mutation describes one single-item protocol execution: a provider
// request bracketed by sync triggers against the owning account.
type Mutation struct {
	// WorkflowID, when set, becomes the record's id. The engine claims
	// the idempotency entry under an id before the record exists, so
	// the id has to be decided ahead of the start call. When unset a
	// fresh id is assigned.
	WorkflowID id.WorkflowID

	// Calendar is the resolved target container.
	Calendar resolver.CalendarRef

	// Request is the provider call issued at the mutate step.
	Request provider.Request

	// Meta annotates the workflow record.
	Meta pendulum.Meta

	// OnTerminal, when non-nil, is invoked exactly once after the
	// record persists its terminal state. The record passed in is the
	// live one; treat it as read-only.
	OnTerminal func(ctx context.Context, wf *Workflow)
}

// BulkDelete describes one bulk protocol execution: resolve candidates
// in a window, delete each match independently, sync afterwards.
type BulkDelete struct {
	// Calendar is the container name, resolved at the querySql step.
	Calendar string

	// Window bounds the query, wall-clock strings.
	Window resolver.WindowSpec

	// TitleMustContainAll is the conjunctive title predicate. The
	// caller validates it is non-empty before starting the workflow.
	TitleMustContainAll []string

	// Meta annotates the workflow record.
	Meta pendulum.Meta

	// OnTerminal, when non-nil, is invoked exactly once after the
	// record persists its terminal state.
	OnTerminal func(ctx context.Context, wf *Workflow)
}

// Runner creates workflow records and drives their protocols on
// background goroutines. The caller gets the running record back
// synchronously and is never blocked on a step.
type Runner struct {
	store    Store
	jobs     *job.Tracker
	provider provider.Provider
	resolver *resolver.Resolver
	trigger  syncagent.Trigger
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time

	settleWait       time.Duration
	providerDeadline time.Duration
	bulkParallelism  int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) RunnerOption {
	return func(r *Runner) { r.emitter = e }
}

// WithLogger sets the logger used on background paths.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithSettleWait sets the pause between protocol steps that gives the
// external agent a chance to make progress. Zero disables the pauses.
func WithSettleWait(d time.Duration) RunnerOption {
	return func(r *Runner) { r.settleWait = d }
}

// WithProviderDeadline sets how long the mutate step waits for a
// provider completion before leaving the job pending and failing the
// workflow.
func WithProviderDeadline(d time.Duration) RunnerOption {
	return func(r *Runner) { r.providerDeadline = d }
}

// WithBulkParallelism caps how many delete candidates are in flight at
// once during a bulk fan-out.
func WithBulkParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.bulkParallelism = n
		}
	}
}

// NewRunner creates a workflow runner.
func NewRunner(
	store Store,
	jobs *job.Tracker,
	prov provider.Provider,
	res *resolver.Resolver,
	trig syncagent.Trigger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		store:            store,
		jobs:             jobs,
		provider:         prov,
		resolver:         res,
		trigger:          trig,
		emitter:          NopEmitter{},
		logger:           slog.Default(),
		now:              time.Now,
		settleWait:       2 * time.Second,
		providerDeadline: 30 * time.Second,
		bulkParallelism:  4,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// StartMutation persists a running workflow for the single-item
// protocol and executes it on a background goroutine. The returned
// snapshot is the synchronous acknowledgement; every later transition
// happens off the calling goroutine.
func (r *Runner) StartMutation(ctx context.Context, kind Kind, m Mutation) (*Workflow, error) {
	wf := r.newWorkflow(kind, m.Meta)
	if !m.WorkflowID.IsNil() {
		wf.ID = m.WorkflowID
	}

	if err := r.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	r.emitter.EmitWorkflowStarted(ctx, wf)

	// The protocol outlives the request that started it; only
	// cancellation is dropped, request-scoped values stay visible.
	go r.runMutation(context.WithoutCancel(ctx), wf, m)

	return wf.Clone(), nil
}

// StartBulkDelete persists a running workflow for the bulk protocol
// and executes it on a background goroutine.
func (r *Runner) StartBulkDelete(ctx context.Context, b BulkDelete) (*Workflow, error) {
	wf := r.newWorkflow(KindBulkDelete, b.Meta)

	if err := r.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	r.emitter.EmitWorkflowStarted(ctx, wf)

	go r.runBulk(context.WithoutCancel(ctx), wf, b)

	return wf.Clone(), nil
}

// Get returns a snapshot of the workflow, or pendulum.ErrWorkflowNotFound.
// Reads are idempotent and side-effect free.
func (r *Runner) Get(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error) {
	return r.store.GetWorkflow(ctx, workflowID)
}

func (r *Runner) newWorkflow(kind Kind, meta pendulum.Meta) *Workflow {
	wf := &Workflow{
		ID:    id.NewWorkflowID(),
		Kind:  kind,
		State: StateRunning,
		Step:  kind.Sequence()[0],
		Meta:  meta.Clone(),
	}
	wf.Touch(r.now().UTC())

	return wf
}

// ──────────────────────────────────────────────────
// Single-item protocol
// ──────────────────────────────────────────────────

func (r *Runner) runMutation(ctx context.Context, wf *Workflow, m Mutation) {
	start := time.Now()
	result, err := r.mutationSteps(ctx, wf, m)

	r.finish(ctx, wf, marshalResult(result), err, time.Since(start), m.OnTerminal)
}

// mutationSteps drives preSync → mutate → postSync → postSync2 with
// settle pauses in between. A non-nil result together with a non-nil
// error means the mutation was recorded but a later sync failed.
func (r *Runner) mutationSteps(ctx context.Context, wf *Workflow, m Mutation) (*MutationResult, error) {
	// Sync first so the mutation never lands on known-stale state. The
	// agent's error comes back untouched; nothing happened yet that
	// would need explaining around it.
	if err := r.step(ctx, wf, StepPreSync, func(ctx context.Context) error {
		return r.trigger.TriggerSync(ctx, m.Calendar.AccountID)
	}); err != nil {
		return nil, err
	}
	r.settle()

	var result *MutationResult

	if err := r.step(ctx, wf, StepMutate, func(ctx context.Context) error {
		c, jobID, err := r.dispatchTracked(ctx, wf, m.Request)
		if err != nil {
			return err
		}

		result = &MutationResult{
			Calendar: m.Calendar.Title,
			ItemID:   c.ItemID,
			JobID:    jobID.String(),
		}
		if result.ItemID == "" {
			result.ItemID = m.Request.ItemID
		}

		return nil
	}); err != nil {
		return nil, err
	}
	r.settle()

	// Post-sync failures do not retract the recorded mutation; the
	// record keeps the result alongside the error.
	if err := r.step(ctx, wf, StepPostSync, func(ctx context.Context) error {
		return r.trigger.TriggerSync(ctx, m.Calendar.AccountID)
	}); err != nil {
		return result, fmt.Errorf("post-sync after recorded mutation: %w", err)
	}
	r.settle()

	if err := r.step(ctx, wf, StepPostSync2, func(ctx context.Context) error {
		return r.trigger.TriggerSync(ctx, m.Calendar.AccountID)
	}); err != nil {
		return result, fmt.Errorf("post-sync after recorded mutation: %w", err)
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Bulk protocol
// ──────────────────────────────────────────────────

func (r *Runner) runBulk(ctx context.Context, wf *Workflow, b BulkDelete) {
	start := time.Now()
	result, err := r.bulkSteps(ctx, wf, b)

	r.finish(ctx, wf, marshalResult(result), err, time.Since(start), b.OnTerminal)
}

// bulkSteps drives querySql → delete → postSync. Candidate failures
// tally into the result; only query and post-sync failures error the
// workflow itself.
func (r *Runner) bulkSteps(ctx context.Context, wf *Workflow, b BulkDelete) (*BulkResult, error) {
	result := &BulkResult{Errors: []string{}}

	var (
		calendar   *resolver.CalendarRef
		candidates []resolver.Candidate
	)

	if err := r.step(ctx, wf, StepQuerySQL, func(ctx context.Context) error {
		cal, matched, err := r.queryCandidates(ctx, wf, b)
		if err != nil {
			return err
		}

		calendar = cal
		candidates = matched
		result.Matched = len(matched)

		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.step(ctx, wf, StepDelete, func(ctx context.Context) error {
		deleted, errs := r.deleteAll(ctx, wf, calendar.ID, candidates)
		result.Deleted = deleted
		result.Errors = errs

		return nil
	}); err != nil {
		return result, err
	}

	if err := r.step(ctx, wf, StepPostSync, func(ctx context.Context) error {
		return r.trigger.TriggerSync(ctx, calendar.AccountID)
	}); err != nil {
		return result, fmt.Errorf("post-sync after deletions: %w", err)
	}

	return result, nil
}

// queryCandidates resolves the deletion set as a tracked query job.
// Filtered batches accumulate on the job record while the query runs,
// so a poller sees partial matches before the query finishes.
func (r *Runner) queryCandidates(ctx context.Context, wf *Workflow, b BulkDelete) (*resolver.CalendarRef, []resolver.Candidate, error) {
	meta := pendulum.Meta{
		pendulum.MetaKind:     "query",
		pendulum.MetaCalendar: b.Calendar,
		pendulum.MetaWorkflow: wf.ID.String(),
	}

	j, _, err := r.jobs.Begin(ctx, meta)
	if err != nil {
		return nil, nil, fmt.Errorf("begin query job: %w", err)
	}

	onBatch := func(batch []resolver.Candidate) error {
		payload, mErr := json.Marshal(batch)
		if mErr != nil {
			return mErr
		}

		return r.jobs.Append(ctx, j.ID, payload)
	}

	cal, matched, err := r.resolver.Resolve(ctx, b.Calendar, b.Window, b.TitleMustContainAll, onBatch)
	if err != nil {
		r.resolveJob(ctx, j.ID, job.Outcome{Err: err})
		return nil, nil, fmt.Errorf("resolve candidates: %w", err)
	}

	summary, _ := json.Marshal(map[string]int{"matched": len(matched)})
	r.resolveJob(ctx, j.ID, job.Outcome{Result: summary})

	return cal, matched, nil
}

// deleteAll fans the candidates out as independent delete jobs, at most
// bulkParallelism in flight at once. Each candidate fails or succeeds
// on its own: handlers never return an error, so one bad item cannot
// abort its siblings.
func (r *Runner) deleteAll(ctx context.Context, wf *Workflow, calendarID string, candidates []resolver.Candidate) (int, []string) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		deleted int
		errs    = []string{}
	)
	g.SetLimit(r.bulkParallelism)

	for _, cand := range candidates {
		g.Go(func() error {
			req := provider.Request{
				Kind:       provider.KindDelete,
				CalendarID: calendarID,
				ItemID:     cand.ExternalID,
			}

			_, _, err := r.dispatchTracked(ctx, wf, req)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", cand.ExternalID, err))
				return nil
			}
			deleted++

			return nil
		})
	}

	// Handlers never fail; Wait only joins the group.
	_ = g.Wait()

	return deleted, errs
}

// ──────────────────────────────────────────────────
// Step machinery
// ──────────────────────────────────────────────────

// step advances the record to s, runs fn under panic recovery, and
// emits the outcome. fn's error comes back unwrapped; a recovered panic
// becomes the error with a logged stack.
func (r *Runner) step(ctx context.Context, wf *Workflow, s Step, fn func(ctx context.Context) error) (err error) {
	if err = r.advance(ctx, wf, s); err != nil {
		return err
	}

	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("workflow step panicked",
				slog.String("workflow_id", wf.ID.String()),
				slog.String("step", string(s)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))

			err = fmt.Errorf("step %s panicked: %v", s, rec)
		}

		if err != nil {
			r.emitter.EmitStepFailed(ctx, wf, s, err)
			return
		}

		r.emitter.EmitStepCompleted(ctx, wf, s, time.Since(start))
	}()

	return fn(ctx)
}

// advance moves the record to the given step and persists it. It
// refuses to move backward through the protocol sequence or to touch a
// terminal record.
func (r *Runner) advance(ctx context.Context, wf *Workflow, s Step) error {
	if wf.Terminal() {
		return pendulum.ErrWorkflowTerminal
	}

	if wf.Kind.stepIndex(s) < wf.Kind.stepIndex(wf.Step) {
		return fmt.Errorf("%w: %s to %s", pendulum.ErrStepRegression, wf.Step, s)
	}

	wf.Step = s
	wf.Touch(r.now().UTC())

	if err := r.store.UpdateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("advance workflow %s to %s: %w", wf.ID, s, err)
	}

	return nil
}

// finish persists the terminal state and notifies observers. On
// success the step advances to done; on error it keeps the label of
// the step that failed. A non-nil result is retained either way.
func (r *Runner) finish(ctx context.Context, wf *Workflow, result json.RawMessage, err error, elapsed time.Duration, onTerminal func(context.Context, *Workflow)) {
	now := r.now().UTC()

	if result != nil {
		wf.Result = result
	}

	if err != nil {
		wf.State = StateError
		wf.Error = err.Error()
	} else {
		wf.State = StateDone
		wf.Step = StepDone
	}

	wf.DoneAt = &now
	wf.Touch(now)

	if updateErr := r.store.UpdateWorkflow(ctx, wf); updateErr != nil {
		r.logger.Error("workflow terminal state lost store update",
			slog.String("workflow_id", wf.ID.String()),
			slog.String("error", updateErr.Error()))
	}

	if err != nil {
		r.emitter.EmitWorkflowFailed(ctx, wf, err)
	} else {
		r.emitter.EmitWorkflowCompleted(ctx, wf, elapsed)
	}

	if onTerminal != nil {
		onTerminal(ctx, wf)
	}
}

// ──────────────────────────────────────────────────
// Provider dispatch
// ──────────────────────────────────────────────────

// dispatchTracked issues one provider request as a tracked job and
// awaits the completion through the deadline guard. The returned job id
// names the record observers can poll. On deadline the job stays
// pending and a watcher goroutine resolves it whenever the completion
// eventually lands; only the workflow gives up.
func (r *Runner) dispatchTracked(ctx context.Context, wf *Workflow, req provider.Request) (provider.Completion, id.JobID, error) {
	meta := pendulum.Meta{
		pendulum.MetaKind:     string(req.Kind),
		pendulum.MetaCalendar: req.CalendarID,
		pendulum.MetaWorkflow: wf.ID.String(),
	}

	j, _, err := r.jobs.Begin(ctx, meta)
	if err != nil {
		return provider.Completion{}, id.JobID{}, fmt.Errorf("begin job: %w", err)
	}

	ch, err := r.provider.Dispatch(ctx, req)
	if err != nil {
		r.resolveJob(ctx, j.ID, job.Outcome{Err: err})
		return provider.Completion{}, j.ID, fmt.Errorf("dispatch %s: %w", req.Kind, err)
	}

	c, ok := guard.Recv(ch, r.providerDeadline)
	if !ok {
		go r.resolveLate(ctx, j.ID, ch)
		return provider.Completion{}, j.ID, fmt.Errorf("%w: job %s", pendulum.ErrProviderTimeout, j.ID)
	}

	if !c.OK() {
		failure := fmt.Errorf("%w: code %d: %s", pendulum.ErrProviderFailure, c.Code, c.Detail)
		r.resolveJob(ctx, j.ID, job.Outcome{Err: failure})

		return c, j.ID, failure
	}

	payload, _ := json.Marshal(c)
	r.resolveJob(ctx, j.ID, job.Outcome{Result: payload})

	return c, j.ID, nil
}

// resolveLate waits without a deadline for a completion that missed
// the guard window and resolves its job. The workflow already
// terminated; only the job record catches up.
func (r *Runner) resolveLate(ctx context.Context, jobID id.JobID, ch <-chan provider.Completion) {
	c, ok := <-ch
	if !ok {
		return
	}

	out := job.Outcome{}
	if c.OK() {
		out.Result, _ = json.Marshal(c)
	} else {
		out.Err = fmt.Errorf("%w: code %d: %s", pendulum.ErrProviderFailure, c.Code, c.Detail)
	}

	if _, err := r.jobs.Resolve(ctx, jobID, out); err != nil {
		r.logger.Warn("late completion could not resolve job",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))

		return
	}

	r.logger.Info("late completion resolved job",
		slog.String("job_id", jobID.String()),
		slog.Int("code", c.Code))
}

// resolveJob resolves a job, logging rather than returning persistence
// failures; the protocol's outcome is decided by the time it is called.
func (r *Runner) resolveJob(ctx context.Context, jobID id.JobID, out job.Outcome) {
	if _, err := r.jobs.Resolve(ctx, jobID, out); err != nil {
		r.logger.Error("job resolution failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) settle() {
	if r.settleWait > 0 {
		time.Sleep(r.settleWait)
	}
}

// marshalResult serializes a terminal payload, tolerating a nil
// pointer of either result type.
func marshalResult(v any) json.RawMessage {
	switch r := v.(type) {
	case *MutationResult:
		if r == nil {
			return nil
		}
	case *BulkResult:
		if r == nil {
			return nil
		}
	case nil:
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return payload
}
