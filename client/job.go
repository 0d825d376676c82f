package client

import (
	"context"
	"time"

	"github.com/xraph/pendulum/backoff"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
)

// Job fetches a tracking job snapshot by id.
func (c *Client) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.get(ctx, "/v1/jobs/"+jobID.String(), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// PollJob fetches the job until it reaches a terminal state, pacing
// re-polls with strategy (backoff.DefaultPolling when nil). On context
// cancellation the last snapshot is returned alongside ctx.Err, so the
// caller sees how far the job got.
func (c *Client) PollJob(ctx context.Context, jobID id.JobID, strategy backoff.Strategy) (*job.Job, error) {
	if strategy == nil {
		strategy = backoff.DefaultPolling()
	}

	for attempt := 1; ; attempt++ {
		j, err := c.Job(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if j.Terminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-time.After(strategy.Delay(attempt)):
		}
	}
}
