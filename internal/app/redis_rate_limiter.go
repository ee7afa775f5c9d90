/**
 * @description
 * Redis-backed limiter for customer syncs. Each (scope, customer) pair gets one
 * counter per clock-aligned window, so every replica of the service agrees on
 * when a window starts and ends.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Script execution against Redis.
 */
package app

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCounterScript increments a window counter, setting its expiry on the
// first hit, and returns the new count.
var windowCounterScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter counts requests per subject in fixed, clock-aligned windows.
type RedisRateLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisRateLimiter creates a limiter whose keys are namespaced under prefix.
func NewRedisRateLimiter(client redis.Scripter, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "openbanking:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// windowKey names the counter of the window containing now. Customer ids are
// kept verbatim since the gateway treats them as case-sensitive.
func (r *RedisRateLimiter) windowKey(scope, subject string, windowStart time.Time) string {
	return r.prefix + ":" + scope + ":" + subject + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// ConsumeRateLimit counts one request for subject in scope and returns the
// count within the current window and the seconds until the next window.
// A disabled limiter or an empty scope or subject counts nothing.
func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}

	now := r.now()
	windowStart := now.Truncate(window)
	windowEnd := windowStart.Add(window)

	// The key outlives its window by a second so late replicas still see it.
	expireMs := windowEnd.Sub(now).Milliseconds() + 1000
	result, err := windowCounterScript.Run(ctx, r.client, []string{r.windowKey(scope, subject, windowStart)}, expireMs).Int64()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit counter for %s/%s: %w", scope, subject, err)
	}

	retryAfter := int(math.Ceil(windowEnd.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(result), retryAfter, nil
}
