package pendulum

import "errors"

var (
	// Request errors. Both fail the originating call synchronously,
	// before any job or workflow record exists.
	ErrValidation            = errors.New("pendulum: validation failed")
	ErrDependencyUnavailable = errors.New("pendulum: dependency unavailable")

	// Not found errors.
	ErrJobNotFound      = errors.New("pendulum: job not found")
	ErrWorkflowNotFound = errors.New("pendulum: workflow not found")
	ErrCalendarNotFound = errors.New("pendulum: calendar not found")
	ErrEntryNotFound    = errors.New("pendulum: idempotency entry not found")

	// Provider outcomes. Recorded on job and workflow records and
	// retrieved via polling, never raised across the async boundary.
	ErrProviderTimeout = errors.New("pendulum: provider call still pending at deadline")
	ErrProviderFailure = errors.New("pendulum: provider reported failure")

	// State errors.
	ErrJobTerminal      = errors.New("pendulum: job already terminal")
	ErrWorkflowTerminal = errors.New("pendulum: workflow already terminal")
	ErrStepRegression   = errors.New("pendulum: workflow step may not move backward")

	// Store errors.
	ErrNoStore     = errors.New("pendulum: no store configured")
	ErrStoreClosed = errors.New("pendulum: store closed")
)

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrCalendarNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}
