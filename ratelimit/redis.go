package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and starts its expiry
// on the first hit. It returns the count and the remaining TTL in ms.
var fixedWindowScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a Limiter shared by every process using the same Redis. Key
// expiry evicts finished windows.
type Redis struct {
	client goredis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedis returns a limiter storing counters under prefix.
func NewRedis(client goredis.Scripter, prefix string) *Redis {
	if prefix == "" {
		prefix = "herald:rl:"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

// Allow counts one request for key.
func (r *Redis) Allow(ctx context.Context, key string, limit int, win time.Duration) (Result, error) {
	now := r.now()
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, ResetAt: now}, nil
	}

	vals, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, win.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: redis: unexpected reply %v", vals)
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res := Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   now.Add(ttl),
	}
	return res, nil
}
