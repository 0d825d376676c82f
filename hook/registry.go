package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Registry satisfies workflow.Emitter, so a populated registry plugs
// straight into the protocol runner.
var _ workflow.Emitter = (*Registry)(nil)

// Named entry types pair an event implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type jobResolvedEntry struct {
	name string
	hook JobResolved
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	workflowStarted   []workflowStartedEntry
	stepCompleted     []stepCompletedEntry
	stepFailed        []stepFailedEntry
	workflowCompleted []workflowCompletedEntry
	workflowFailed    []workflowFailedEntry
	jobResolved       []jobResolvedEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, e})
	}
	if e, ok := h.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, e})
	}
	if e, ok := h.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, e})
	}
	if e, ok := h.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, e})
	}
	if e, ok := h.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, e})
	}
	if e, ok := h.(JobResolved); ok {
		r.jobResolved = append(r.jobResolved, jobResolvedEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all hooks that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, wf *workflow.Workflow) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, wf); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all hooks that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, wf *workflow.Workflow, step workflow.Step, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, wf, step, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all hooks that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, wf *workflow.Workflow, step workflow.Step, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, wf, step, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all hooks that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, wf *workflow.Workflow, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, wf, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all hooks that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, wf *workflow.Workflow, wfErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, wf, wfErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobResolved notifies all hooks that implement JobResolved.
func (r *Registry) EmitJobResolved(ctx context.Context, j *job.Job) {
	for _, e := range r.jobResolved {
		if err := e.hook.OnJobResolved(ctx, j); err != nil {
			r.logHookError("OnJobResolved", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not stall a protocol.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
