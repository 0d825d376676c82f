package workflow

import (
	"context"
	"time"

	"github.com/xraph/pendulum/id"
)

// Store persists workflow records. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateWorkflow persists a new workflow record.
	CreateWorkflow(ctx context.Context, wf *Workflow) error

	// GetWorkflow returns a snapshot of the workflow, or
	// pendulum.ErrWorkflowNotFound.
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error)

	// UpdateWorkflow replaces the stored record. Returns
	// pendulum.ErrWorkflowNotFound for an unknown id.
	UpdateWorkflow(ctx context.Context, wf *Workflow) error

	// ListWorkflows returns workflow snapshots, newest first.
	ListWorkflows(ctx context.Context, opts ListOpts) ([]*Workflow, error)

	// PurgeTerminalWorkflows deletes terminal workflows whose DoneAt is
	// before the cutoff, returning how many were removed. Running
	// workflows are never touched.
	PurgeTerminalWorkflows(ctx context.Context, olderThan time.Time) (int, error)
}

// ListOpts filters and pages ListWorkflows.
type ListOpts struct {
	// State filters by lifecycle state when non-empty.
	State State

	// Kind filters by operation kind when non-empty.
	Kind Kind

	// Limit caps the number of results; zero means no cap.
	Limit int

	// Offset skips results for paging.
	Offset int
}
