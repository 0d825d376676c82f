package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
)

// Outcome is the terminal disposition of a tracked job.
type Outcome struct {
	// Result, when present, is appended to the record as its final
	// results entry.
	Result json.RawMessage

	// Err, when non-nil, resolves the job as failed with the error's
	// message.
	Err error
}

// Tracker is the job registry. It assigns ids, persists records, and is
// the sole holder of each job's completion latch until the job resolves.
type Tracker struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	observer func(ctx context.Context, j *Job)

	mu      sync.Mutex
	latches map[id.JobID]chan struct{}
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the logger used for failures on background paths.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithResolveObserver registers a callback invoked after a job's
// terminal state has been persisted. The job passed in is the updated
// record; the observer must not mutate it.
func WithResolveObserver(fn func(ctx context.Context, j *Job)) TrackerOption {
	return func(t *Tracker) { t.observer = fn }
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		latches: make(map[id.JobID]chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Begin registers a new pending job and returns it together with its
// completion latch. The latch closes exactly once, when the job
// resolves; until then the Tracker holds the only closing reference, so
// the handle cannot be reclaimed while the operation is in flight.
func (t *Tracker) Begin(ctx context.Context, meta pendulum.Meta) (*Job, <-chan struct{}, error) {
	j := &Job{
		ID:    id.NewJobID(),
		State: StatePending,
		Meta:  meta.Clone(),
	}
	j.Touch(t.now().UTC())

	if err := t.store.CreateJob(ctx, j); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	latch := make(chan struct{})

	t.mu.Lock()
	t.latches[j.ID] = latch
	t.mu.Unlock()

	return j, latch, nil
}

// Get returns a snapshot of the job, or pendulum.ErrJobNotFound.
// Reads are idempotent and side-effect free.
func (t *Tracker) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	return t.store.GetJob(ctx, jobID)
}

// Append adds partial results to a pending job, so a caller polling
// mid-flight sees accumulated data alongside the pending state.
func (t *Tracker) Append(ctx context.Context, jobID id.JobID, results ...json.RawMessage) error {
	if len(results) == 0 {
		return nil
	}

	return t.store.AppendJobResults(ctx, jobID, results)
}

// Resolve sets the terminal state exactly once and releases the
// completion latch. A resolution arriving after observers stopped
// waiting lands here all the same: the record reflects the final state
// on the next poll of the same id. Resolving an already-terminal job
// returns pendulum.ErrJobTerminal.
func (t *Tracker) Resolve(ctx context.Context, jobID id.JobID, out Outcome) (*Job, error) {
	t.mu.Lock()
	latch, held := t.latches[jobID]
	delete(t.latches, jobID)
	t.mu.Unlock()

	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if j.Terminal() {
		return nil, pendulum.ErrJobTerminal
	}

	if held {
		// The latch must not stay open whatever happens below: a stuck
		// observer is worse than a stale record.
		defer close(latch)
	}

	now := t.now().UTC()

	if out.Err != nil {
		j.State = StateError
		j.Error = out.Err.Error()
	} else {
		j.State = StateDone
	}

	if out.Result != nil {
		j.Results = append(j.Results, out.Result)
	}

	j.DoneAt = &now
	j.Touch(now)

	if err := t.store.UpdateJob(ctx, j); err != nil {
		t.logger.Error("job resolution lost store update",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))

		return nil, fmt.Errorf("update job %s: %w", jobID, err)
	}

	if t.observer != nil {
		t.observer(ctx, j)
	}

	return j, nil
}

// Watch returns the completion latch for a job still in flight. The
// second return is false once the job has resolved (or was never
// tracked), at which point callers should read the record instead.
func (t *Tracker) Watch(jobID id.JobID) (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	latch, ok := t.latches[jobID]
	return latch, ok
}

// InFlight reports how many jobs currently hold an unresolved latch.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.latches)
}
