package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts events per scope and subject in a fixed window. count is the number of
// events in the current window including this one.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter is a fixed-window limiter shared by every service replica.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter keys counters under prefix (default "loyalty:rate_limit"). A nil client
// disables limiting.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "loyalty:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// ConsumeRateLimit records one event for subject under scope and returns the window's count
// together with the seconds until the window resets.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := max(window.Milliseconds(), 1000)
	key := r.prefix + ":" + scope + ":" + subject
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	return parseWindowResult(raw, windowMs)
}

// parseWindowResult decodes the {count, ttl_ms} pair returned by fixedWindowScript.
func parseWindowResult(raw interface{}, windowMs int64) (int, int, error) {
	pair, ok := raw.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter reply %T", raw)
	}
	count, ok := pair[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected limiter count %T", pair[0])
	}
	ttlMs, ok := pair[1].(int64)
	if !ok {
		return int(count), 0, fmt.Errorf("unexpected limiter ttl %T", pair[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000))
	return int(count), max(retryAfter, 1), nil
}
