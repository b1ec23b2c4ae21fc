package redisconn

import "time"

// RetryPolicy is the connection retry strategy: MaxAttempts tries with a
// linear backoff of Step x attempt number between them. Kept as its own value
// so the backoff math is testable without a network.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Step:        500 * time.Millisecond,
	}
}

// Delay returns the backoff before the given 1-based attempt. The first
// attempt has no delay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.Step * time.Duration(attempt-1)
}
