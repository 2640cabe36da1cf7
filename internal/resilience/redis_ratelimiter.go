package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// RedisRateLimiter implements distributed rate limiting using Redis sorted
// sets. Each call is stored as a member with its timestamp as the score,
// giving a sliding window shared by every scheduler instance. Without the
// shared store each instance would independently exhaust the provider's
// true rate limit.
//
// Algorithm:
//  1. Remove entries older than the window
//  2. Count remaining entries
//  3. If count < limit, add new entry and allow
//  4. Otherwise, reject
//
// All operations are atomic using a Lua script.
type RedisRateLimiter struct {
	client   *redis.Client
	window   time.Duration
	limit    int
	fallback *RateLimiterManager
	logger   *slog.Logger
}

// RedisRateLimiterConfig holds configuration for the Redis rate limiter.
type RedisRateLimiterConfig struct {
	// Window is the sliding window size (default: 1 minute).
	Window time.Duration
	// RequestsPerWindow is the number of calls allowed per provider per window.
	RequestsPerWindow int
}

func DefaultRedisRateLimiterConfig() RedisRateLimiterConfig {
	return RedisRateLimiterConfig{
		Window:            time.Minute,
		RequestsPerWindow: 60,
	}
}

// NewRedisRateLimiter creates a new Redis-backed rate limiter.
// Falls back to in-memory rate limiting when Redis is unavailable.
func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig, logger *slog.Logger) *RedisRateLimiter {
	if config.Window == 0 {
		config.Window = time.Minute
	}
	if config.RequestsPerWindow == 0 {
		config.RequestsPerWindow = 60
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisRateLimiter{
		client:   client,
		window:   config.Window,
		limit:    config.RequestsPerWindow,
		fallback: NewRateLimiterManager(RateLimiterConfig{RequestsPerMinute: config.RequestsPerWindow, Burst: config.RequestsPerWindow/10 + 1}),
		logger:   logger,
	}
}

// rateLimitScript atomically checks and updates the sliding window.
// Returns 1 if allowed, 0 if rate limited.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- Remove old entries outside the window
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

-- Count current entries
local count = redis.call('ZCARD', key)

if count < limit then
    -- Add new entry and set TTL
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window)
    return 1
else
    return 0
end
`)

func (r *RedisRateLimiter) key(provider domain.ProviderKind) string {
	return fmt.Sprintf("ratelimit:provider:%s", provider)
}

// Allow checks if a call toward the provider is allowed right now.
// Falls back to in-memory rate limiting if Redis is unavailable.
func (r *RedisRateLimiter) Allow(ctx context.Context, provider domain.ProviderKind) (bool, error) {
	now := time.Now().UnixMilli()
	windowMs := r.window.Milliseconds()
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%1000000) // unique member

	result, err := rateLimitScript.Run(ctx, r.client, []string{r.key(provider)}, now, windowMs, r.limit, member).Int()
	if err != nil {
		r.logger.Warn("redis rate limiter failed, using fallback",
			"error", err,
			"provider", provider,
		)
		return r.fallback.Allow(provider), nil
	}

	return result == 1, nil
}

// Headroom returns how many calls remain in the current window.
func (r *RedisRateLimiter) Headroom(ctx context.Context, provider domain.ProviderKind) (float64, error) {
	now := time.Now().UnixMilli()
	cutoff := now - r.window.Milliseconds()

	count, err := r.client.ZCount(ctx, r.key(provider), fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		r.logger.Warn("redis rate limiter headroom failed, using fallback",
			"error", err,
			"provider", provider,
		)
		return r.fallback.Headroom(provider), nil
	}

	headroom := float64(r.limit) - float64(count)
	if headroom < 0 {
		headroom = 0
	}
	return headroom, nil
}
