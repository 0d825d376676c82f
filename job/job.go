package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
)

// State is the lifecycle state of a Job.
type State string

// Job states. A job is created pending and moves to exactly one of the
// terminal states, never back.
const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateError   State = "error"
)

// Terminal reports whether the state is done or error.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Job is one tracked asynchronous operation against the external
// provider. Results accumulate while the job is pending; the terminal
// state is set exactly once.
type Job struct {
	pendulum.Entity

	ID      id.JobID          `json:"id"`
	State   State             `json:"state"`
	Meta    pendulum.Meta     `json:"meta,omitempty"`
	Results []json.RawMessage `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
	DoneAt  *time.Time        `json:"done_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal state.
func (j *Job) Terminal() bool {
	return j.State.Terminal()
}

// Clone returns a deep copy so snapshots cannot alias live state.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Meta = j.Meta.Clone()

	if j.Results != nil {
		cp.Results = make([]json.RawMessage, len(j.Results))
		copy(cp.Results, j.Results)
	}

	if j.DoneAt != nil {
		doneAt := *j.DoneAt
		cp.DoneAt = &doneAt
	}

	return &cp
}
