package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/pendulum/id"
)

// Cache applies the TTL policy over a Store. Expired entries are treated
// as absent on lookup and purged at that point.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache with the given TTL. A non-positive TTL means
// entries never expire.
func NewCache(store Store, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit claims the fingerprint for workflowID. On a first submission it
// stores the pending marker before the workflow executes and reports
// isNew=true. On a duplicate it returns the existing entry, pending or
// completed, so concurrent duplicates observe the same in-flight
// workflow id. Expired entries are purged here and the claim retried.
func (c *Cache) Submit(ctx context.Context, fingerprint string, workflowID id.WorkflowID) (*Entry, bool, error) {
	now := c.now().UTC()

	fresh := &Entry{
		Fingerprint: fingerprint,
		WorkflowID:  workflowID,
		Pending:     true,
		CreatedAt:   now,
	}

	for {
		existing, created, err := c.store.PutEntryNX(ctx, fresh)
		if err != nil {
			return nil, false, fmt.Errorf("claim fingerprint: %w", err)
		}

		if created {
			return fresh, true, nil
		}

		if !c.expired(existing, now) {
			return existing, false, nil
		}

		if err := c.store.DeleteEntry(ctx, existing.Fingerprint); err != nil {
			return nil, false, fmt.Errorf("purge expired fingerprint: %w", err)
		}
	}
}

// Complete replaces the pending marker with the final payload. The TTL
// window restarts from completion.
func (c *Cache) Complete(ctx context.Context, fingerprint string, workflowID id.WorkflowID, payload json.RawMessage) error {
	e := &Entry{
		Fingerprint: fingerprint,
		WorkflowID:  workflowID,
		Pending:     false,
		Payload:     payload,
		CreatedAt:   c.now().UTC(),
	}

	return c.store.ReplaceEntry(ctx, e)
}

// Forget drops the entry so the next identical request starts fresh.
// Used when a workflow terminates in error.
func (c *Cache) Forget(ctx context.Context, fingerprint string) error {
	return c.store.DeleteEntry(ctx, fingerprint)
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	if c.ttl <= 0 {
		return false
	}

	return now.Sub(e.CreatedAt) >= c.ttl
}
