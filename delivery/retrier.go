package delivery

import "time"

// Decision is what happens to a delivery after an attempt.
type Decision int

const (
	// Delivered: the receiver answered 2xx.
	Delivered Decision = iota

	// Retry: the attempt failed and attempts remain.
	Retry

	// Fail: the attempt failed and it was the last one.
	Fail
)

func (d Decision) String() string {
	switch d {
	case Delivered:
		return "success"
	case Retry:
		return "retry"
	default:
		return "failed"
	}
}

// Retrier holds the retry policy: a fixed attempt ceiling and a doubling
// backoff starting at initial and capped at max.
type Retrier struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

// NewRetrier returns the policy. maxAttempts below 1 means a single attempt.
func NewRetrier(maxAttempts int, initial, maxBackoff time.Duration) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrier{maxAttempts: maxAttempts, initial: initial, max: maxBackoff}
}

// MaxAttempts is the attempt ceiling, the first attempt included.
func (r *Retrier) MaxAttempts() int { return r.maxAttempts }

// Decide classifies attempt number attempt (1-based). Any non-2xx answer
// and any transport error is retryable.
func (r *Retrier) Decide(res Result, attempt int) Decision {
	if res.OK() {
		return Delivered
	}
	if attempt < r.maxAttempts {
		return Retry
	}
	return Fail
}

// Backoff is the wait before the attempt after attempt:
// initial·2^(attempt-1), capped at max when max is positive.
func (r *Retrier) Backoff(attempt int) time.Duration {
	d := r.initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if r.max > 0 && d >= r.max {
			return r.max
		}
	}
	if r.max > 0 && d > r.max {
		return r.max
	}
	return d
}
