package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/transfa/openbanking-service/internal/store"
)

// scripterStub counts per key like the Lua script does.
type scripterStub struct {
	redis.Scripter
	counts  map[string]int64
	keys    []string
	args    []interface{}
	noCache bool
	result  interface{}
	err     error
}

func (s *scripterStub) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	if s.noCache {
		s.noCache = false
		return redis.NewCmdResult(nil, replyError("NOSCRIPT No matching script. Please use EVAL."))
	}
	return s.eval(keys, args)
}

func (s *scripterStub) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.eval(keys, args)
}

func (s *scripterStub) eval(keys []string, args []interface{}) *redis.Cmd {
	s.keys = append(s.keys, keys...)
	s.args = args
	if s.err != nil || s.result != nil {
		return redis.NewCmdResult(s.result, s.err)
	}
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[keys[0]]++
	return redis.NewCmdResult(s.counts[keys[0]], nil)
}

func newTestRedisLimiter(client redis.Scripter, now time.Time) *RedisRateLimiter {
	limiter := NewRedisRateLimiter(client, " openbanking:rate_limit: ")
	limiter.now = func() time.Time { return now }
	return limiter
}

func TestRedisRateLimiter_WindowKeyAndRetryAfter(t *testing.T) {
	client := &scripterStub{noCache: true}
	now := time.Date(2026, 3, 4, 10, 0, 45, 0, time.UTC)
	limiter := newTestRedisLimiter(client, now)

	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "fetch_accounts", " IND_CUST_001 ", 5, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 || retryAfter != 15 {
		t.Fatalf("expected count 1 and 15s retry, got %d/%d", count, retryAfter)
	}

	windowStart := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC).Unix()
	wantKey := "openbanking:rate_limit:fetch_accounts:IND_CUST_001:" + strconv.FormatInt(windowStart, 10)
	if len(client.keys) != 1 || client.keys[0] != wantKey {
		t.Fatalf("expected key %q, got %v", wantKey, client.keys)
	}
	if len(client.args) != 1 || client.args[0] != int64(16000) {
		t.Fatalf("expected expiry of 16000ms, got %v", client.args)
	}
}

func TestRedisRateLimiter_CountsPerCustomerAndWindow(t *testing.T) {
	client := &scripterStub{}
	now := time.Date(2026, 3, 4, 10, 0, 10, 0, time.UTC)
	limiter := newTestRedisLimiter(client, now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.ConsumeRateLimit(ctx, "fetch_accounts", "C1", 5, time.Minute)
	}
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "fetch_accounts", "C1", 5, time.Minute); count != 3 {
		t.Fatalf("expected third hit in the window to count 3, got %d", count)
	}
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "fetch_accounts", "C2", 5, time.Minute); count != 1 {
		t.Fatalf("other customers have their own counter, got %d", count)
	}

	limiter.now = func() time.Time { return now.Add(time.Minute) }
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "fetch_accounts", "C1", 5, time.Minute); count != 1 {
		t.Fatalf("expected a fresh counter in the next window, got %d", count)
	}
}

func TestRedisRateLimiter_Disabled(t *testing.T) {
	client := &scripterStub{}
	limiter := newTestRedisLimiter(client, time.Now())

	tests := []struct {
		name    string
		scope   string
		subject string
		limit   int
	}{
		{name: "zero limit", scope: "fetch_accounts", subject: "C1", limit: 0},
		{name: "empty subject", scope: "fetch_accounts", subject: "  ", limit: 5},
		{name: "empty scope", scope: "", subject: "C1", limit: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), tt.scope, tt.subject, tt.limit, time.Minute)
			if err != nil || count != 0 || retryAfter != 0 {
				t.Fatalf("expected a no-op, got %d/%d/%v", count, retryAfter, err)
			}
		})
	}
	if len(client.keys) != 0 {
		t.Fatalf("redis must not be called, got keys %v", client.keys)
	}
}

func TestRedisRateLimiter_ResultErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *scripterStub
	}{
		{name: "redis error", client: &scripterStub{err: errors.New("connection refused")}},
		{name: "unexpected reply type", client: &scripterStub{result: "not-a-number"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := newTestRedisLimiter(tt.client, time.Now())
			if _, _, err := limiter.ConsumeRateLimit(context.Background(), "fetch_accounts", "C1", 5, time.Minute); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestSyncCustomer_RedisLimiterRejectsOverLimit(t *testing.T) {
	gw := &gatewayStub{accounts: rawAccounts(twoAccountsBody)}
	svc := newTestAccountService(gw, store.NewMemoryAccountRepository(), nil)
	limiter := newTestRedisLimiter(&scripterStub{}, time.Date(2026, 3, 4, 10, 0, 50, 0, time.UTC))
	svc.SetSyncRateLimiter(limiter, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.SyncCustomer(ctx, "IND_CUST_001", TriggerHTTP); err != nil {
			t.Fatalf("sync %d should pass: %v", i, err)
		}
	}
	_, err := svc.SyncCustomer(ctx, "IND_CUST_001", TriggerHTTP)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfterSeconds != 10 {
		t.Fatalf("expected rate limit error with 10s retry, got %v", err)
	}
	if gw.fetchCalls != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gw.fetchCalls)
	}
}

// replyError is an error reply from the Redis server.
type replyError string

func (e replyError) Error() string { return string(e) }
func (e replyError) RedisError()   {}
