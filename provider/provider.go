// Package provider defines the asynchronous mutation surface of the
// external calendar agent: add, modify, and delete calls whose outcome
// arrives through an eventual completion callback.
package provider

import "context"

// Kind is the mutation verb.
type Kind string

// Mutation kinds.
const (
	KindAdd    Kind = "add"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
)

// ItemAttrs is the calendar item payload of an add or modify. Times are
// in the item store's native representation, microseconds since the
// Unix epoch.
type ItemAttrs struct {
	Title       string `json:"title,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
	StartMicros int64  `json:"start_us,omitempty"`
	EndMicros   int64  `json:"end_us,omitempty"`
	Location    string `json:"location,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Request is one mutation against the provider.
type Request struct {
	Kind       Kind      `json:"kind"`
	CalendarID string    `json:"calendar_id"`
	ItemID     string    `json:"item_id,omitempty"`
	Item       ItemAttrs `json:"item"`
}

// Completion is the provider's callback payload: a status code where 0
// is success, the identifier the provider assigned (when any), and
// free-form detail for failures.
type Completion struct {
	Code   int    `json:"code"`
	ItemID string `json:"item_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// OK reports whether the completion carries the success status.
func (c Completion) OK() bool {
	return c.Code == 0
}

// Provider issues asynchronous mutations.
type Provider interface {
	// Ready verifies the provider can accept calls. It is checked
	// eagerly, before any stateful step; failures carry
	// pendulum.ErrDependencyUnavailable.
	Ready(ctx context.Context) error

	// Dispatch issues the mutation. The returned channel delivers
	// exactly one Completion, whenever the provider gets around to it;
	// the operation is never cancelled once issued. An immediate error
	// means the call could not be issued at all.
	Dispatch(ctx context.Context, req Request) (<-chan Completion, error)
}
