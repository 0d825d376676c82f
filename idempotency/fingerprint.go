package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Seed is the canonical input set for a mutation fingerprint.
type Seed struct {
	// Calendar is the target container.
	Calendar string

	// Tag is a caller-supplied short discriminator. Callers that do not
	// supply one use the operation kind, so identical requests collide
	// and different operations on the same slot do not.
	Tag string

	// AllDay selects which scheduled-time fields apply.
	AllDay bool

	// Date is the scheduled date of an all-day item.
	Date string

	// Start and End are the scheduled bounds of a timed item.
	Start string
	End   string

	// Title participates for all-day seeds only, so distinct all-day
	// items on the same date do not collide. Timed seeds omit it along
	// with description and location: two timed requests on the same
	// window differing only in those fields share a fingerprint and
	// deduplicate to the first submission.
	Title string
}

// Fingerprint derives the deduplication key for a mutation request.
func Fingerprint(s Seed) string {
	var b strings.Builder

	b.WriteString("cal=")
	b.WriteString(s.Calendar)

	if s.AllDay {
		b.WriteString("|date=")
		b.WriteString(s.Date)
		b.WriteString("|title=")
		b.WriteString(strings.TrimSpace(s.Title))
	} else {
		b.WriteString("|start=")
		b.WriteString(s.Start)
		b.WriteString("|end=")
		b.WriteString(s.End)
	}

	b.WriteString("|tag=")
	b.WriteString(s.Tag)

	sum := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(sum[:])
}
