package client

import (
	"context"
	"time"

	"github.com/xraph/pendulum/backoff"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/workflow"
)

// Workflow fetches a workflow snapshot by id.
func (c *Client) Workflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := c.get(ctx, "/v1/workflows/"+workflowID.String(), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// PollWorkflow fetches the workflow until it reaches a terminal state,
// pacing re-polls with strategy (backoff.DefaultPolling when nil). On
// context cancellation the last snapshot is returned alongside ctx.Err.
func (c *Client) PollWorkflow(ctx context.Context, workflowID id.WorkflowID, strategy backoff.Strategy) (*workflow.Workflow, error) {
	if strategy == nil {
		strategy = backoff.DefaultPolling()
	}

	for attempt := 1; ; attempt++ {
		wf, err := c.Workflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		if wf.Terminal() {
			return wf, nil
		}

		select {
		case <-ctx.Done():
			return wf, ctx.Err()
		case <-time.After(strategy.Delay(attempt)):
		}
	}
}
