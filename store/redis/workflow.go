package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/workflow"
)

// CreateWorkflow persists a new workflow record.
func (s *Store) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	wID := wf.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workflowKey(wID), workflowToMap(wf))
	pipe.SAdd(ctx, workflowIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendulum/redis: create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	vals, err := s.client.HGetAll(ctx, workflowKey(workflowID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: get workflow: %w", err)
	}
	if len(vals) == 0 {
		return nil, pendulum.ErrWorkflowNotFound
	}
	return mapToWorkflow(vals)
}

// UpdateWorkflow persists changes to an existing workflow. Terminal
// workflows are indexed by DoneAt for the retention sweep.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	wID := wf.ID.String()
	key := workflowKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pendulum/redis: update workflow exists: %w", err)
	}
	if exists == 0 {
		return pendulum.ErrWorkflowNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, workflowToMap(wf))
	if wf.Terminal() && wf.DoneAt != nil {
		pipe.ZAdd(ctx, workflowDoneKey, goredis.Z{Score: doneScore(*wf.DoneAt), Member: wID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendulum/redis: update workflow: %w", err)
	}
	return nil
}

// ListWorkflows returns workflows matching the given options, newest first.
func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	ids, err := s.client.SMembers(ctx, workflowIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: list workflows smembers: %w", err)
	}

	wfs := make([]*workflow.Workflow, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workflowKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		wf, convErr := mapToWorkflow(vals)
		if convErr != nil {
			continue
		}
		if opts.State != "" && wf.State != opts.State {
			continue
		}
		if opts.Kind != "" && wf.Kind != opts.Kind {
			continue
		}
		wfs = append(wfs, wf)
	}

	sort.Slice(wfs, func(a, b int) bool {
		if wfs[a].CreatedAt.Equal(wfs[b].CreatedAt) {
			return wfs[a].ID.String() > wfs[b].ID.String()
		}
		return wfs[a].CreatedAt.After(wfs[b].CreatedAt)
	})

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(wfs) {
		wfs = wfs[opts.Offset:]
	} else if opts.Offset >= len(wfs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(wfs) {
		wfs = wfs[:opts.Limit]
	}
	return wfs, nil
}

// PurgeTerminalWorkflows deletes terminal workflows whose DoneAt is
// before olderThan and returns how many were removed.
func (s *Store) PurgeTerminalWorkflows(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, workflowDoneKey, &goredis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("pendulum/redis: purge workflows zrange: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, wID := range ids {
		pipe.Del(ctx, workflowKey(wID))
		pipe.SRem(ctx, workflowIDsKey, wID)
		pipe.ZRem(ctx, workflowDoneKey, wID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("pendulum/redis: purge workflows: %w", err)
	}
	return len(ids), nil
}

// ── helpers ──

func workflowToMap(wf *workflow.Workflow) map[string]interface{} {
	m := map[string]interface{}{
		"id":         wf.ID.String(),
		"kind":       string(wf.Kind),
		"state":      string(wf.State),
		"step":       string(wf.Step),
		"meta":       marshalJSON(wf.Meta),
		"result":     string(wf.Result),
		"error":      wf.Error,
		"created_at": wf.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": wf.UpdatedAt.Format(time.RFC3339Nano),
	}
	if wf.DoneAt != nil {
		m["done_at"] = wf.DoneAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToWorkflow(m map[string]string) (*workflow.Workflow, error) {
	wID, err := id.ParseWorkflowID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: parse workflow id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	wf := &workflow.Workflow{
		Entity: pendulum.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:    wID,
		Kind:  workflow.Kind(m["kind"]),
		State: workflow.State(m["state"]),
		Step:  workflow.Step(m["step"]),
		Meta:  unmarshalMeta(m["meta"]),
		Error: m["error"],
	}

	if v := m["result"]; v != "" {
		wf.Result = json.RawMessage(v)
	}
	if v := m["done_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		wf.DoneAt = &t
	}
	return wf, nil
}
