package workflow

import (
	"encoding/json"
	"time"

	"github.com/xraph/pendulum"
	"github.com/xraph/pendulum/id"
)

// State represents the lifecycle state of a workflow.
type State string

const (
	// StateRunning means the protocol is currently executing.
	StateRunning State = "running"
	// StateDone means the protocol finished; for bulk operations this
	// includes runs where individual candidates failed.
	StateDone State = "done"
	// StateError means a protocol step failed terminally.
	StateError State = "error"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Step labels a position in a protocol sequence. The label persists on
// the record so pollers see how far execution got.
type Step string

// Protocol step labels.
const (
	StepPreSync   Step = "preSync"
	StepMutate    Step = "mutate"
	StepPostSync  Step = "postSync"
	StepPostSync2 Step = "postSync2"
	StepQuerySQL  Step = "querySql"
	StepDelete    Step = "delete"
	StepDone      Step = "done"
)

// Kind names the operation a workflow executes.
type Kind string

// Operation kinds.
const (
	KindCreate     Kind = "create"
	KindUpdate     Kind = "update"
	KindDelete     Kind = "delete"
	KindBulkDelete Kind = "bulk_delete"
)

// Sequence returns the kind's protocol step sequence, in order.
func (k Kind) Sequence() []Step {
	if k == KindBulkDelete {
		return []Step{StepQuerySQL, StepDelete, StepPostSync, StepDone}
	}

	return []Step{StepPreSync, StepMutate, StepPostSync, StepPostSync2, StepDone}
}

// stepIndex returns the position of s in the kind's sequence, or -1.
func (k Kind) stepIndex(s Step) int {
	for i, step := range k.Sequence() {
		if step == s {
			return i
		}
	}

	return -1
}

// Workflow is a single protocol execution record.
type Workflow struct {
	pendulum.Entity

	ID     id.WorkflowID   `json:"id"`
	Kind   Kind            `json:"kind"`
	State  State           `json:"state"`
	Step   Step            `json:"step"`
	Meta   pendulum.Meta   `json:"meta,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	DoneAt *time.Time      `json:"done_at,omitempty"`
}

// Terminal reports whether the workflow reached a final state.
func (w *Workflow) Terminal() bool {
	return w.State.Terminal()
}

// Clone returns a deep copy so snapshots cannot alias live state.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	out := *w
	out.Meta = w.Meta.Clone()

	if w.Result != nil {
		out.Result = make(json.RawMessage, len(w.Result))
		copy(out.Result, w.Result)
	}

	if w.DoneAt != nil {
		doneAt := *w.DoneAt
		out.DoneAt = &doneAt
	}

	return &out
}
