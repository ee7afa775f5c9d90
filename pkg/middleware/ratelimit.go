/**
 * @description
 * Rate limiting middleware to prevent abuse and ensure fair resource usage.
 * Uses a simple in-memory token bucket per client IP. It is the fallback used
 * when no Redis limiter is configured.
 *
 * @dependencies
 * - sync: For thread-safe operations
 * - time: For time-based rate limiting
 * - net/http: For HTTP middleware
 */
package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter implements a per-key token bucket rate limiter.
type RateLimiter struct {
	requests    map[string]*TokenBucket
	mutex       sync.Mutex
	capacity    int
	refillEvery time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     int
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window per key,
// with bursts up to burst.
func NewRateLimiter(rate int, burst int, window time.Duration) *RateLimiter {
	if rate < 1 {
		rate = 1
	}
	if burst < 1 {
		burst = rate
	}
	rl := &RateLimiter{
		requests:    make(map[string]*TokenBucket),
		capacity:    burst,
		refillEvery: window / time.Duration(rate),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if rl.refillEvery <= 0 {
		rl.refillEvery = time.Nanosecond
	}

	// Start cleanup goroutine
	go rl.cleanupExpiredBuckets()

	return rl
}

// Allow checks if a request from the given key should be allowed. When it is
// not, it also returns how long until a token is available.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	bucket, exists := rl.requests[key]
	if !exists {
		// Start with full bucket
		bucket = &TokenBucket{tokens: rl.capacity, lastRefill: now}
		rl.requests[key] = bucket
	}
	bucket.lastSeen = now

	// Refill tokens based on time elapsed
	if tokensToAdd := int(now.Sub(bucket.lastRefill) / rl.refillEvery); tokensToAdd > 0 {
		bucket.tokens = min(rl.capacity, bucket.tokens+tokensToAdd)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(tokensToAdd) * rl.refillEvery)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true, 0
	}
	return false, bucket.lastRefill.Add(rl.refillEvery).Sub(now)
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// cleanupExpiredBuckets removes old buckets to prevent memory leaks
func (rl *RateLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(10 * time.Minute)
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	now := rl.now()
	for key, bucket := range rl.requests {
		if now.Sub(bucket.lastSeen) > idle {
			delete(rl.requests, key)
		}
	}
}

// RateLimitMiddleware limits each client IP to requestsPerMinute, with bursts
// of up to the same amount. A non-positive limit disables the middleware.
func RateLimitMiddleware(limiter *RateLimiter, requestsPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || requestsPerMinute <= 0 {
			return next
		}
		limit := strconv.Itoa(requestsPerMinute)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, wait := limiter.Allow(clientIP(r))
			w.Header().Set("X-RateLimit-Limit", limit)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware has
// already replaced RemoteAddr with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
