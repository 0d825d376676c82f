package pendulum

import "time"

// Entity carries the timestamp pair shared by all tracked records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch stamps UpdatedAt, setting CreatedAt on first use.
func (e *Entity) Touch(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	e.UpdatedAt = now
}

// Meta is the free-form annotation set attached to jobs and workflows:
// operation kind, target calendar, owning account, linked record ids.
type Meta map[string]string

// Clone returns an independent copy so snapshots cannot alias live state.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}

	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// Common Meta keys written by the engine.
const (
	MetaKind     = "kind"
	MetaCalendar = "calendar"
	MetaAccount  = "account"
	MetaWorkflow = "workflow_id"
	MetaJob      = "job_id"
	MetaTitle    = "title"
)
