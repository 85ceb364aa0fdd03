package agent

import "time"

// RetryPolicy bounds reconnection attempts after an unexpected transport
// loss. The schedule mirrors the hub's automatic-reconnect timing; attempts
// beyond the schedule reuse its last entry.
type RetryPolicy struct {
	MaxAttempts int
	Schedule    []time.Duration
}

// DefaultRetryPolicy matches the live hub contract: three attempts with
// increasing delays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Schedule:    []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second},
	}
}

// Exhausted reports whether the given 1-based attempt exceeds the budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}

// Delay returns how long to wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	return p.Schedule[idx]
}
