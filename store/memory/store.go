// Package memory provides a fully in-memory store implementation.
// Safe for concurrent use; intended for tests, development, and
// single-process deployments that can afford to lose records on
// restart.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
	"github.com/xraph/pendulum/idempotency"
	"github.com/xraph/pendulum/job"
	"github.com/xraph/pendulum/workflow"
)

// Compile-time checks: the memory store serves every subsystem.
var (
	_ pendulum.Store    = (*Store)(nil)
	_ job.Store         = (*Store)(nil)
	_ workflow.Store    = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
)

// Store holds all records behind one RWMutex. Records are copied on
// the way in and out, so callers can never alias live store state.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	workflows map[string]*workflow.Workflow
	entries   map[string]*idempotency.Entry

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		workflows: make(map[string]*workflow.Workflow),
		entries:   make(map[string]*idempotency.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping reports whether the store is usable.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return pendulum.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Records are kept so late readers still
// see consistent data, but Ping fails from here on.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// CreateJob persists a new job record.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// GetJob retrieves a job snapshot by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, pendulum.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob replaces the stored record.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return pendulum.ErrJobNotFound
	}
	m.jobs[key] = j.Clone()
	return nil
}

// AppendJobResults appends partial results to a pending job atomically.
func (m *Store) AppendJobResults(_ context.Context, jobID id.JobID, results []json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return pendulum.ErrJobNotFound
	}
	if j.Terminal() {
		return pendulum.ErrJobTerminal
	}

	for _, r := range results {
		cp := make(json.RawMessage, len(r))
		copy(cp, r)
		j.Results = append(j.Results, cp)
	}
	j.UpdatedAt = time.Now().UTC()

	return nil
}

// ListJobs returns job snapshots, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID.String() > result[k].ID.String()
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// PurgeTerminalJobs deletes terminal jobs older than the cutoff.
func (m *Store) PurgeTerminalJobs(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, j := range m.jobs {
		if !j.Terminal() || j.DoneAt == nil {
			continue
		}
		if j.DoneAt.Before(olderThan) {
			delete(m.jobs, key)
			purged++
		}
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Workflow store
// ──────────────────────────────────────────────────

// CreateWorkflow persists a new workflow record.
func (m *Store) CreateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workflows[wf.ID.String()] = wf.Clone()
	return nil
}

// GetWorkflow retrieves a workflow snapshot by ID.
func (m *Store) GetWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return nil, pendulum.ErrWorkflowNotFound
	}
	return wf.Clone(), nil
}

// UpdateWorkflow replaces the stored record.
func (m *Store) UpdateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wf.ID.String()
	if _, ok := m.workflows[key]; !ok {
		return pendulum.ErrWorkflowNotFound
	}
	m.workflows[key] = wf.Clone()
	return nil
}

// ListWorkflows returns workflow snapshots, newest first.
func (m *Store) ListWorkflows(_ context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if opts.State != "" && wf.State != opts.State {
			continue
		}
		if opts.Kind != "" && wf.Kind != opts.Kind {
			continue
		}
		result = append(result, wf.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID.String() > result[k].ID.String()
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

// PurgeTerminalWorkflows deletes terminal workflows older than the cutoff.
func (m *Store) PurgeTerminalWorkflows(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, wf := range m.workflows {
		if !wf.Terminal() || wf.DoneAt == nil {
			continue
		}
		if wf.DoneAt.Before(olderThan) {
			delete(m.workflows, key)
			purged++
		}
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Idempotency store
// ──────────────────────────────────────────────────

// PutEntryNX stores e only when its fingerprint is absent, returning
// the existing entry otherwise.
func (m *Store) PutEntryNX(_ context.Context, e *idempotency.Entry) (*idempotency.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[e.Fingerprint]; ok {
		return existing.Clone(), false, nil
	}

	m.entries[e.Fingerprint] = e.Clone()
	return e.Clone(), true, nil
}

// GetEntry returns the entry for a fingerprint.
func (m *Store) GetEntry(_ context.Context, fingerprint string) (*idempotency.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, pendulum.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// ReplaceEntry stores e unconditionally.
func (m *Store) ReplaceEntry(_ context.Context, e *idempotency.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.Fingerprint] = e.Clone()
	return nil
}

// DeleteEntry removes the entry for a fingerprint, absent or not.
func (m *Store) DeleteEntry(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, fingerprint)
	return nil
}

// page applies offset and limit to an already-sorted slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
