package pulse

import "time"

// Policy is the retry/backoff policy for failed executions.
// Backoff doubles per attempt and is capped: min(base * 2^retryCount, max).
// Deliberately jitter-free so retry timing is reproducible and can be
// verified independently.
type Policy struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
}

// Decision is the outcome of applying the policy to a failed execution
type Decision struct {
	Retry       bool      // true: reschedule; false: terminal failure
	NextRunAt   time.Time // only meaningful when Retry
	RetryCount  int       // retry_count after applying the decision
}

// Decide maps an attempt history to the next schedule or terminal failure.
// Pure: same inputs always produce the same decision.
func (p Policy) Decide(retryCount, maxRetries int, now time.Time) Decision {
	if retryCount >= maxRetries {
		return Decision{Retry: false, RetryCount: retryCount}
	}

	interval := p.BaseInterval << uint(retryCount)
	if interval > p.MaxInterval || interval <= 0 {
		// Shift overflow also lands here
		interval = p.MaxInterval
	}

	return Decision{
		Retry:      true,
		NextRunAt:  now.Add(interval),
		RetryCount: retryCount + 1,
	}
}
