package application

import "time"

const (
	DefaultRetryStep    = 5 * time.Second
	DefaultRetryCeiling = 60 * time.Second
)

// RetryPolicy is a limited additive backoff. It holds constants only, every
// supervisor keeps its own state.
type RetryPolicy struct {
	Step    time.Duration
	Ceiling time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Step: DefaultRetryStep, Ceiling: DefaultRetryCeiling}
}

// Due reports whether an attempt may start at now. A zero lastAttempt is
// always due.
func (p RetryPolicy) Due(now, lastAttempt time.Time, backoff time.Duration) bool {
	if lastAttempt.IsZero() {
		return true
	}
	return now.Sub(lastAttempt) >= backoff
}

// Next returns the backoff after a failed attempt: 5s, 10s, ... 60s.
func (p RetryPolicy) Next(backoff time.Duration) time.Duration {
	next := backoff + p.Step
	if next > p.Ceiling {
		next = p.Ceiling
	}
	return next
}
