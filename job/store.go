package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/pendulum/id"
)

// Store persists job records. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateJob persists a new job record.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob returns a snapshot of the job, or pendulum.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob replaces the stored record. Returns
	// pendulum.ErrJobNotFound for an unknown id.
	UpdateJob(ctx context.Context, j *Job) error

	// AppendJobResults appends partial results to a pending job
	// atomically and stamps UpdatedAt. Returns pendulum.ErrJobTerminal
	// when the job already reached a terminal state.
	AppendJobResults(ctx context.Context, jobID id.JobID, results []json.RawMessage) error

	// ListJobs returns job snapshots, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// PurgeTerminalJobs deletes terminal jobs whose DoneAt is before
	// the cutoff, returning how many were removed. Pending jobs are
	// never touched.
	PurgeTerminalJobs(ctx context.Context, olderThan time.Time) (int, error)
}

// ListOpts filters and pages ListJobs.
type ListOpts struct {
	// State filters by lifecycle state when non-empty.
	State State

	// Limit caps the number of results; zero means no cap.
	Limit int

	// Offset skips results for paging.
	Offset int
}
