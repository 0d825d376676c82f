package pendulum

import "time"

// Config holds the timing knobs for the orchestration engine.
type Config struct {
	// ProviderDeadline is how long a workflow waits for a provider
	// completion before reporting the job as still pending. The
	// underlying call is never cancelled.
	ProviderDeadline time.Duration

	// SettleWait is the pause inserted between protocol steps to give
	// the external sync agent a chance to make progress.
	SettleWait time.Duration

	// IdempotencyTTL is how long a mutation fingerprint deduplicates
	// repeat submissions. Entries expire lazily on next lookup.
	IdempotencyTTL time.Duration

	// Retention is how long terminal job and workflow records are kept
	// before the background sweep purges them. Pending and running
	// records are never purged.
	Retention time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// BulkParallelism is the maximum number of per-candidate mutations
	// dispatched concurrently by a bulk workflow.
	BulkParallelism int

	// QueryBatchSize is how many candidates the resolver streams per
	// batch while a query job accumulates partial results.
	QueryBatchSize int

	// Location resolves wall-clock date and time strings in requests.
	Location *time.Location
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProviderDeadline: 30 * time.Second,
		SettleWait:       2 * time.Second,
		IdempotencyTTL:   6 * time.Hour,
		Retention:        24 * time.Hour,
		SweepInterval:    10 * time.Minute,
		BulkParallelism:  4,
		QueryBatchSize:   50,
		Location:         time.Local,
	}
}
