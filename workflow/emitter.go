package workflow

import (
	"context"
	"time"
)

// Emitter receives workflow lifecycle notifications. hook.Registry
// satisfies it directly; defining the interface here keeps this package
// free of a dependency on the hook package.
type Emitter interface {
	EmitWorkflowStarted(ctx context.Context, wf *Workflow)
	EmitStepCompleted(ctx context.Context, wf *Workflow, step Step, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, wf *Workflow, step Step, err error)
	EmitWorkflowCompleted(ctx context.Context, wf *Workflow, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, wf *Workflow, err error)
}

// NopEmitter discards every notification.
type NopEmitter struct{}

var _ Emitter = NopEmitter{}

func (NopEmitter) EmitWorkflowStarted(context.Context, *Workflow) {}

func (NopEmitter) EmitStepCompleted(context.Context, *Workflow, Step, time.Duration) {}

func (NopEmitter) EmitStepFailed(context.Context, *Workflow, Step, error) {}

func (NopEmitter) EmitWorkflowCompleted(context.Context, *Workflow, time.Duration) {}

func (NopEmitter) EmitWorkflowFailed(context.Context, *Workflow, error) {}
