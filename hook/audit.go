package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Compile-time interface checks.
var (
	_ Hook              = (*Audit)(nil)
	_ WorkflowStarted   = (*Audit)(nil)
	_ StepCompleted     = (*Audit)(nil)
	_ StepFailed        = (*Audit)(nil)
	_ WorkflowCompleted = (*Audit)(nil)
	_ WorkflowFailed    = (*Audit)(nil)
	_ JobResolved       = (*Audit)(nil)
)

// Audit writes one structured log record per lifecycle event. Calendar
// mutations touch state a user sees in their client, so operators want
// a durable trail of what Pendulum changed and when.
type Audit struct {
	logger *slog.Logger
}

// NewAudit creates an Audit hook writing through the given logger.
func NewAudit(logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audit{logger: logger}
}

// Name implements Hook.
func (a *Audit) Name() string { return "audit" }

// OnWorkflowStarted implements WorkflowStarted.
func (a *Audit) OnWorkflowStarted(ctx context.Context, wf *workflow.Workflow) error {
	a.logger.InfoContext(ctx, "audit: workflow started",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("kind", string(wf.Kind)),
		slog.String("calendar", wf.Meta[pendulum.MetaCalendar]),
	)
	return nil
}

// OnStepCompleted implements StepCompleted.
func (a *Audit) OnStepCompleted(ctx context.Context, wf *workflow.Workflow, step workflow.Step, elapsed time.Duration) error {
	a.logger.InfoContext(ctx, "audit: step completed",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("step", string(step)),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	return nil
}

// OnStepFailed implements StepFailed.
func (a *Audit) OnStepFailed(ctx context.Context, wf *workflow.Workflow, step workflow.Step, err error) error {
	a.logger.WarnContext(ctx, "audit: step failed",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("step", string(step)),
		slog.String("error", err.Error()),
	)
	return nil
}

// OnWorkflowCompleted implements WorkflowCompleted.
func (a *Audit) OnWorkflowCompleted(ctx context.Context, wf *workflow.Workflow, elapsed time.Duration) error {
	a.logger.InfoContext(ctx, "audit: workflow completed",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("kind", string(wf.Kind)),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	return nil
}

// OnWorkflowFailed implements WorkflowFailed.
func (a *Audit) OnWorkflowFailed(ctx context.Context, wf *workflow.Workflow, err error) error {
	a.logger.ErrorContext(ctx, "audit: workflow failed",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("kind", string(wf.Kind)),
		slog.String("step", string(wf.Step)),
		slog.String("error", err.Error()),
	)
	return nil
}

// OnJobResolved implements JobResolved.
func (a *Audit) OnJobResolved(ctx context.Context, j *job.Job) error {
	attrs := []any{
		slog.String("job_id", j.ID.String()),
		slog.String("state", string(j.State)),
	}
	if j.Error != "" {
		attrs = append(attrs, slog.String("error", j.Error))
	}
	a.logger.InfoContext(ctx, "audit: job resolved", attrs...)
	return nil
}
