// Package resolver discovers the targets of a bulk operation by querying
// the external calendar item store for a container, a time window, and a
// conjunctive title filter. Resolution is read-only and never mutates.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/caltime"
)

// Candidate is a discovered item, not owned by any job until a fan-out
// mutation dispatches it.
type Candidate struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
}

// CalendarRef identifies a container in the item store together with the
// account the sync agent keys on.
type CalendarRef struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	AccountID string `json:"account_id"`
}

// Window is a half-open [Start, End) range in the item store's native
// representation, microseconds since the Unix epoch.
type Window struct {
	StartMicros int64
	EndMicros   int64
}

// WindowSpec carries the wall-clock bounds of a query as supplied by the
// caller: date-time strings, or bare dates taken as local midnight.
type WindowSpec struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ItemStore is the read-only query surface of the external calendar
// store. Implementations stream window-matched items; title filtering
// stays in the Resolver so every backend shares one matching semantic.
type ItemStore interface {
	// LookupCalendar resolves a container by name, or returns
	// pendulum.ErrCalendarNotFound.
	LookupCalendar(ctx context.Context, name string) (*CalendarRef, error)

	// QueryItems streams the items of a calendar whose start time lies
	// in w, in batches, to onBatch. An onBatch error stops the stream
	// and is returned as-is. The connection backing the query is scoped
	// to the call and released on success and failure alike.
	QueryItems(ctx context.Context, calendarID string, w Window, onBatch func(batch []Candidate) error) error

	// ListCalendars enumerates the known containers.
	ListCalendars(ctx context.Context) ([]CalendarRef, error)
}

// MatchesAll reports whether every required substring appears in title,
// case-insensitively. An empty required list matches; callers that need
// a non-empty predicate must validate before matching.
func MatchesAll(title string, required []string) bool {
	lowered := strings.ToLower(title)

	for _, sub := range required {
		if !strings.Contains(lowered, strings.ToLower(sub)) {
			return false
		}
	}

	return true
}

// Resolver validates query arguments and filters streamed items.
type Resolver struct {
	store ItemStore
	loc   *time.Location
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocation sets the location wall-clock bounds are parsed in.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) { r.loc = loc }
}

// New creates a Resolver over the given item store.
func New(store ItemStore, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		loc:   time.Local,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the candidates in the calendar whose start lies in the
// half-open window and whose title contains every required substring.
// Matched candidates stream to onBatch (when non-nil) as they arrive, so
// a tracking job can accumulate partial results.
//
// An empty required list is "no predicate supplied" and fails with
// pendulum.ErrValidation before the store is touched, as do blank
// predicates and malformed window bounds. Destructive call sites rely on
// that ordering: no filter, no discovery.
func (r *Resolver) Resolve(ctx context.Context, calendar string, spec WindowSpec, required []string, onBatch func([]Candidate) error) (*CalendarRef, []Candidate, error) {
	if len(required) == 0 {
		return nil, nil, fmt.Errorf("%w: no title predicate supplied", pendulum.ErrValidation)
	}

	for _, sub := range required {
		if strings.TrimSpace(sub) == "" {
			return nil, nil, fmt.Errorf("%w: blank title predicate", pendulum.ErrValidation)
		}
	}

	start, err := caltime.ParseStamp(spec.Start, r.loc)
	if err != nil {
		return nil, nil, err
	}

	end, err := caltime.ParseStamp(spec.End, r.loc)
	if err != nil {
		return nil, nil, err
	}

	if !start.Before(end) {
		return nil, nil, fmt.Errorf("%w: window start %q not before end %q", pendulum.ErrValidation, spec.Start, spec.End)
	}

	cal, err := r.store.LookupCalendar(ctx, calendar)
	if err != nil {
		return nil, nil, err
	}

	w := Window{
		StartMicros: caltime.StoreMicros(start),
		EndMicros:   caltime.StoreMicros(end),
	}

	var matched []Candidate

	err = r.store.QueryItems(ctx, cal.ID, w, func(batch []Candidate) error {
		var keep []Candidate

		for _, c := range batch {
			if MatchesAll(c.Title, required) {
				keep = append(keep, c)
			}
		}

		if len(keep) == 0 {
			return nil
		}

		matched = append(matched, keep...)

		if onBatch != nil {
			return onBatch(keep)
		}

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("query calendar %q: %w", calendar, err)
	}

	return cal, matched, nil
}
