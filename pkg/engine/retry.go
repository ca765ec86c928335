package engine

import "time"

// RetryPolicy bounds retries of external effects (email delivery, tag
// mutations). Between attempts the execution is suspended through the same
// wake-time machinery wait nodes use, so retries survive restarts too.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Factor      int
	MaxAttempts int
}

// DefaultRetryPolicy is 30s base delay, doubling, five attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   30 * time.Second,
		Factor:      2,
		MaxAttempts: 5,
	}
}

// Delay returns the backoff before re-running a node that has already failed
// attempt times (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay

	for i := 1; i < attempt; i++ {
		delay *= time.Duration(p.Factor)
	}

	return delay
}

// Exhausted reports whether attempt failures have used up the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
