package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/job"
)

// CreateJob stores the job as a Hash and indexes its id.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendulum/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID, including its accumulated results.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.loadJob(ctx, jobID.String())
}

// UpdateJob persists changes to an existing job. The results list is
// rewritten to match the record, and terminal jobs are indexed by DoneAt
// for the retention sweep.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pendulum/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return pendulum.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.Del(ctx, jobResultsKey(jID))
	if len(j.Results) > 0 {
		pipe.RPush(ctx, jobResultsKey(jID), rawValues(j.Results)...)
	}
	if j.Terminal() && j.DoneAt != nil {
		pipe.ZAdd(ctx, jobDoneKey, goredis.Z{Score: doneScore(*j.DoneAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendulum/redis: update job: %w", err)
	}
	return nil
}

// AppendJobResults pushes result batches onto a pending job's list.
// Appending to a terminal job returns pendulum.ErrJobTerminal.
func (s *Store) AppendJobResults(ctx context.Context, jobID id.JobID, results []json.RawMessage) error {
	if len(results) == 0 {
		return nil
	}
	jID := jobID.String()

	state, err := s.client.HGet(ctx, jobKey(jID), "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return pendulum.ErrJobNotFound
		}
		return fmt.Errorf("pendulum/redis: append results state: %w", err)
	}
	if job.State(state).Terminal() {
		return pendulum.ErrJobTerminal
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, jobResultsKey(jID), rawValues(results)...)
	pipe.HSet(ctx, jobKey(jID), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pendulum/redis: append results: %w", err)
	}
	return nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.loadJob(ctx, jID)
		if getErr != nil {
			continue // skip missing
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID.String() > jobs[b].ID.String()
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})

	// Apply offset/limit.
	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// PurgeTerminalJobs deletes terminal jobs whose DoneAt is before
// olderThan and returns how many were removed. Pending jobs are never
// touched, however stale.
func (s *Store) PurgeTerminalJobs(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, jobDoneKey, &goredis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("pendulum/redis: purge jobs zrange: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, jID := range ids {
		pipe.Del(ctx, jobKey(jID), jobResultsKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		pipe.ZRem(ctx, jobDoneKey, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("pendulum/redis: purge jobs: %w", err)
	}
	return len(ids), nil
}

// ── helpers ──

// doneScore converts a terminal timestamp into a sorted-set score.
func doneScore(t time.Time) float64 { return float64(t.UnixMilli()) }

// rawValues converts result messages into RPush arguments.
func rawValues(results []json.RawMessage) []interface{} {
	vals := make([]interface{}, len(results))
	for i, r := range results {
		vals[i] = string(r)
	}
	return vals
}

func (s *Store) loadJob(ctx context.Context, jID string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jID)).Result()
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, pendulum.ErrJobNotFound
	}

	j, err := mapToJob(vals)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, jobResultsKey(jID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: get job results: %w", err)
	}
	for _, r := range raw {
		j.Results = append(j.Results, json.RawMessage(r))
	}
	return j, nil
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":         j.ID.String(),
		"state":      string(j.State),
		"meta":       marshalJSON(j.Meta),
		"error":      j.Error,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.DoneAt != nil {
		m["done_at"] = j.DoneAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pendulum/redis: parse job id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: pendulum.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:    jID,
		State: job.State(m["state"]),
		Meta:  unmarshalMeta(m["meta"]),
		Error: m["error"],
	}

	if v := m["done_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.DoneAt = &t
	}
	return j, nil
}

// marshalJSON is a helper to marshal to a JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalMeta parses a JSON meta map.
func unmarshalMeta(s string) pendulum.Meta {
	if s == "" || s == "null" {
		return nil
	}
	out := make(pendulum.Meta)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
