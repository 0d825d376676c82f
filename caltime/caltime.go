// Package caltime converts between the wall-clock date and time strings
// used in requests and the calendar item store's native representation,
// integer microseconds since the Unix epoch.
//
// Parsing is a validated step: a malformed string fails with
// pendulum.ErrValidation instead of silently producing an empty window.
package caltime

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/pendulum"
)

// Wall-clock layouts accepted in requests.
const (
	LayoutDate         = "2006-01-02"
	LayoutDateTime     = "2006-01-02 15:04"
	LayoutDateTimeSecs = "2006-01-02 15:04:05"
)

// ParseDate parses an all-day date string as local midnight in loc.
// A nil loc means time.Local.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	t, err := time.ParseInLocation(LayoutDate, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", pendulum.ErrValidation, s, err)
	}

	return t, nil
}

// ParseDateTime parses a timed wall-clock string, with or without
// seconds, in loc. A nil loc means time.Local.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	trimmed := strings.TrimSpace(s)

	t, err := time.ParseInLocation(LayoutDateTime, trimmed, loc)
	if err == nil {
		return t, nil
	}

	t, err = time.ParseInLocation(LayoutDateTimeSecs, trimmed, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q: %v", pendulum.ErrValidation, s, err)
	}

	return t, nil
}

// ParseStamp parses a window bound that may be a timed wall-clock
// string or a bare date (taken as local midnight). A nil loc means
// time.Local.
func ParseStamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := ParseDateTime(s, loc); err == nil {
		return t, nil
	}

	t, err := ParseDate(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bound %q is neither a date nor a date-time", pendulum.ErrValidation, s)
	}

	return t, nil
}

// DayWindow returns the half-open [midnight, next midnight) window
// containing t, in t's location. Used for all-day items.
func DayWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	return start, start.AddDate(0, 0, 1)
}

// StoreMicros converts t to the item store's native representation.
func StoreMicros(t time.Time) int64 {
	return t.UnixMicro()
}

// FromStoreMicros converts a store timestamp back to local time.
func FromStoreMicros(us int64) time.Time {
	return time.UnixMicro(us)
}
