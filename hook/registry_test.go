package hook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/pendulum/hook"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ──────────────────────────────────────────────────
// Test hooks
// ──────────────────────────────────────────────────

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnWorkflowStarted(_ context.Context, _ *workflow.Workflow) error {
	h.calls = append(h.calls, "OnWorkflowStarted")
	return nil
}

func (h *allEventsHook) OnStepCompleted(_ context.Context, _ *workflow.Workflow, _ workflow.Step, _ time.Duration) error {
	h.calls = append(h.calls, "OnStepCompleted")
	return nil
}

func (h *allEventsHook) OnStepFailed(_ context.Context, _ *workflow.Workflow, _ workflow.Step, _ error) error {
	h.calls = append(h.calls, "OnStepFailed")
	return nil
}

func (h *allEventsHook) OnWorkflowCompleted(_ context.Context, _ *workflow.Workflow, _ time.Duration) error {
	h.calls = append(h.calls, "OnWorkflowCompleted")
	return nil
}

func (h *allEventsHook) OnWorkflowFailed(_ context.Context, _ *workflow.Workflow, _ error) error {
	h.calls = append(h.calls, "OnWorkflowFailed")
	return nil
}

func (h *allEventsHook) OnJobResolved(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobResolved")
	return nil
}

// jobOnlyHook only implements the job event.
type jobOnlyHook struct {
	calls []string
}

func (h *jobOnlyHook) Name() string { return "job-only" }

func (h *jobOnlyHook) OnJobResolved(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobResolved")
	return nil
}

// failingHook returns errors from its events.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnWorkflowStarted(_ context.Context, _ *workflow.Workflow) error {
	return errors.New("boom")
}

func (h *failingHook) OnJobResolved(_ context.Context, _ *job.Job) error {
	return errors.New("job boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(discardLogger())
	all := &allEventsHook{}
	r.Register(all)

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(discardLogger())
	all := &allEventsHook{}
	jo := &jobOnlyHook{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), State: job.StateDone}

	// Both implement OnJobResolved so both are called.
	r.EmitJobResolved(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobResolved" {
		t.Fatalf("all: expected [OnJobResolved], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobResolved" {
		t.Fatalf("jo: expected [OnJobResolved], got %v", jo.calls)
	}

	// Only all implements OnWorkflowStarted.
	r.EmitWorkflowStarted(ctx, &workflow.Workflow{ID: id.NewWorkflowID()})
	if len(all.calls) != 2 || all.calls[1] != "OnWorkflowStarted" {
		t.Fatalf("all: expected OnWorkflowStarted as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllWorkflowEventsFire(t *testing.T) {
	r := hook.NewRegistry(discardLogger())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	wf := &workflow.Workflow{ID: id.NewWorkflowID(), Kind: workflow.KindCreate}

	r.EmitWorkflowStarted(ctx, wf)
	r.EmitStepCompleted(ctx, wf, workflow.StepPreSync, time.Second)
	r.EmitStepFailed(ctx, wf, workflow.StepMutate, errors.New("step fail"))
	r.EmitWorkflowCompleted(ctx, wf, 2*time.Second)
	r.EmitWorkflowFailed(ctx, wf, errors.New("wf fail"))

	expected := []string{
		"OnWorkflowStarted", "OnStepCompleted", "OnStepFailed",
		"OnWorkflowCompleted", "OnWorkflowFailed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(discardLogger())
	failing := &failingHook{}
	all := &allEventsHook{}

	// Register failing first, then all-events. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allEventsHook should still fire.
	r.EmitWorkflowStarted(ctx, &workflow.Workflow{ID: id.NewWorkflowID()})

	if len(all.calls) != 1 || all.calls[0] != "OnWorkflowStarted" {
		t.Fatalf("all: expected [OnWorkflowStarted] despite failing hook, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(discardLogger())
	ctx := context.Background()
	wf := &workflow.Workflow{}

	// None of these should panic or error.
	r.EmitWorkflowStarted(ctx, wf)
	r.EmitStepCompleted(ctx, wf, workflow.StepPreSync, time.Second)
	r.EmitStepFailed(ctx, wf, workflow.StepPreSync, errors.New("x"))
	r.EmitWorkflowCompleted(ctx, wf, time.Second)
	r.EmitWorkflowFailed(ctx, wf, errors.New("x"))
	r.EmitJobResolved(ctx, &job.Job{})
}

func TestRegistry_MultipleHooksAllNotified(t *testing.T) {
	r := hook.NewRegistry(discardLogger())
	h1 := &allEventsHook{}
	h2 := &allEventsHook{}
	r.Register(h1)
	r.Register(h2)

	r.EmitJobResolved(context.Background(), &job.Job{ID: id.NewJobID()})

	if len(h1.calls) != 1 {
		t.Errorf("h1: expected 1 call, got %d", len(h1.calls))
	}
	if len(h2.calls) != 1 {
		t.Errorf("h2: expected 1 call, got %d", len(h2.calls))
	}
}
