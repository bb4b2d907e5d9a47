// Package ratelimit implements fixed-window request limiting for the
// manual webhook trigger, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Result is the limiter's answer for one request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole
// seconds and never below one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter counts requests per key in fixed windows. A limit of zero or
// less means unlimited.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}
