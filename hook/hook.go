// Package hook defines lifecycle observers for Pendulum. Hooks are
// notified when workflows transition and when jobs resolve, and can
// react to them without touching the protocol path.
//
// Each lifecycle event is a separate interface so hooks opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle events
// ──────────────────────────────────────────────────

// WorkflowStarted is called when a workflow record has been created
// and the protocol is about to run.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, wf *workflow.Workflow) error
}

// StepCompleted is called after a protocol step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, wf *workflow.Workflow, step workflow.Step, elapsed time.Duration) error
}

// StepFailed is called when a protocol step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, wf *workflow.Workflow, step workflow.Step, err error) error
}

// WorkflowCompleted is called after a workflow reaches the done state.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, wf *workflow.Workflow, elapsed time.Duration) error
}

// WorkflowFailed is called when a workflow reaches the error state.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, wf *workflow.Workflow, err error) error
}

// ──────────────────────────────────────────────────
// Job lifecycle events
// ──────────────────────────────────────────────────

// JobResolved is called when a tracked job reaches a terminal state,
// whether done or error. The record passed in is already persisted.
type JobResolved interface {
	OnJobResolved(ctx context.Context, j *job.Job) error
}
