package syncagent

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Compile-time interface check.
var _ Trigger = (*Limited)(nil)

// Limited spaces trigger calls per account through a token bucket, so
// two workflows touching the same account do not hammer the agent with
// overlapping sync commands. Calls wait for a token rather than drop:
// every accepted trigger is still delivered.
type Limited struct {
	next  Trigger
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimited wraps next with a per-account limiter admitting perSecond
// sustained triggers with the given burst. A burst below 1 is raised
// to 1.
func NewLimited(next Trigger, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}

	return &Limited{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// TriggerSync implements Trigger.
func (l *Limited) TriggerSync(ctx context.Context, accountID string) error {
	if err := l.limiterFor(accountID).Wait(ctx); err != nil {
		return err
	}

	return l.next.TriggerSync(ctx, accountID)
}

func (l *Limited) limiterFor(accountID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[accountID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[accountID] = lim
	}

	return lim
}
