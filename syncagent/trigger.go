// Package syncagent integrates the external synchronization agent: a
// one-way, fire-and-forget trigger keyed by account identifier.
//
// Acceptance of a trigger call means the command was received, nothing
// more. The remote sync may still fail or never run; callers must not
// infer remote completion from a nil error. The agent is an
// unsynchronized shared resource the engine does not serialize access
// to; Limited packages the operational discipline of spacing triggers
// per account for deployments that want it.
package syncagent

import "context"

// Trigger commands the agent to synchronize one account.
type Trigger interface {
	// TriggerSync asks the agent to sync the account. A nil return
	// means the command was accepted, not that the sync succeeded.
	TriggerSync(ctx context.Context, accountID string) error
}

// Nop accepts every trigger without side effects. Development and tests.
type Nop struct{}

// TriggerSync implements Trigger.
func (Nop) TriggerSync(context.Context, string) error { return nil }
