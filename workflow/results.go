package workflow

// MutationResult is the terminal payload of a single-item protocol:
// which item the provider created, updated, or deleted, and the job
// that carried the call. A post-sync failure after the mutation was
// recorded keeps this payload on the errored record.
type MutationResult struct {
	Calendar string `json:"calendar"`
	ItemID   string `json:"item_id,omitempty"`
	JobID    string `json:"job_id"`
}

// BulkResult is the terminal payload of a bulk delete: how many items
// the query matched, how many deletions succeeded, and one message per
// failed candidate. Partial failures are reported as exactly that,
// never folded into a full failure or a full success.
type BulkResult struct {
	Matched int      `json:"matched"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}
