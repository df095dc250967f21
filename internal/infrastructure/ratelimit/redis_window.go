package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veloprint/gateway/internal/domain/models"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/pkg/logger"
)

// Lua script for an atomic sliding-window check on a sorted set. Entries are
// scored by arrival time in milliseconds; everything older than the window is
// pruned before counting.
const slidingWindowLuaScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < max_requests then
    redis.call('ZADD', key, now_ms, now_ms .. '-' .. math.random(1000000))
    allowed = 1
    count = count + 1
end

local oldest = now_ms
local entries = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if entries[2] then
    oldest = tonumber(entries[2])
end

redis.call('PEXPIRE', key, window_ms + 60000)

return {allowed, max_requests - count, oldest}
`

// RedisWindowLimiter counts arrivals in Redis so that several gateway
// instances share one admission budget. On Redis failure it falls back to the
// local in-process pool rather than failing the request.
type RedisWindowLimiter struct {
	client    redis.UniversalClient
	script    *redis.Script
	keyPrefix string
	fallback  *SlidingWindowLimiter
	log       logger.Logger
}

var _ service.RateLimitService = (*RedisWindowLimiter)(nil)

// NewRedisWindowLimiter wraps a Redis client with the sliding-window script.
func NewRedisWindowLimiter(client redis.UniversalClient, fallback *SlidingWindowLimiter, log logger.Logger) *RedisWindowLimiter {
	return &RedisWindowLimiter{
		client:    client,
		script:    redis.NewScript(slidingWindowLuaScript),
		keyPrefix: "gw:ratelimit:",
		fallback:  fallback,
		log:       log.WithComponent("ratelimit.redis"),
	}
}

// Allow runs the window check atomically in Redis.
func (l *RedisWindowLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (models.AdmissionResult, error) {
	now := time.Now()
	raw, err := l.script.Run(ctx, l.client,
		[]string{l.keyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), max,
	).Result()
	if err != nil {
		l.log.Warn(ctx, "redis window check failed, using local fallback", logger.Error(err))
		if l.fallback != nil {
			return l.fallback.Allow(ctx, key, window, max)
		}
		return models.AdmissionResult{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return models.AdmissionResult{}, fmt.Errorf("ratelimit: unexpected script reply %v", raw)
	}

	allowed := vals[0].(int64) == 1
	remaining := vals[1].(int64)
	if remaining < 0 {
		remaining = 0
	}
	oldest := time.UnixMilli(vals[2].(int64))
	reset := oldest.Add(window)

	result := models.AdmissionResult{
		Allowed:   allowed,
		Limit:     max,
		Remaining: int(remaining),
		ResetAt:   reset,
	}
	if !allowed {
		result.RetryAfter = reset.Sub(now)
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
	}
	return result, nil
}

// Reset drops the window for a key.
func (l *RedisWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.keyPrefix+key).Err()
}
