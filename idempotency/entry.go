// Package idempotency deduplicates mutation requests by fingerprint.
//
// A request's fingerprint maps to at most one entry: a pending marker
// naming the in-flight workflow, or the completed result. Entries expire
// after a fixed TTL and are purged lazily on the next lookup, never by a
// background sweep.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/pendulum/id"
)

// Entry records one logical mutation per fingerprint: the in-flight
// workflow while pending, the final payload once complete.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	WorkflowID  id.WorkflowID   `json:"workflow_id"`
	Pending     bool            `json:"pending"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns an independent copy.
func (e *Entry) Clone() *Entry {
	cp := *e

	if e.Payload != nil {
		cp.Payload = make(json.RawMessage, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}

	return &cp
}

// Store persists idempotency entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// PutEntryNX stores e only when no entry exists for its
	// fingerprint. When one does, it returns that entry with
	// created=false and stores nothing: put-if-absent is what makes
	// concurrent duplicates observe a single in-flight execution.
	PutEntryNX(ctx context.Context, e *Entry) (existing *Entry, created bool, err error)

	// GetEntry returns the entry for a fingerprint, or
	// pendulum.ErrEntryNotFound.
	GetEntry(ctx context.Context, fingerprint string) (*Entry, error)

	// ReplaceEntry stores e for its fingerprint unconditionally,
	// overwriting any pending marker.
	ReplaceEntry(ctx context.Context, e *Entry) error

	// DeleteEntry removes the entry for a fingerprint. Deleting an
	// absent entry is not an error.
	DeleteEntry(ctx context.Context, fingerprint string) error
}
