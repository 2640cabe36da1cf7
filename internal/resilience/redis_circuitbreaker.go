package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// RedisCircuitBreaker implements a distributed circuit breaker using Redis.
// Breaker state is shared across all scheduler and webhook instances, so a
// provider outage observed by one instance short-circuits calls from all of
// them. State transitions are atomic using Lua scripts.
type RedisCircuitBreaker struct {
	client   *redis.Client
	config   RedisCircuitBreakerConfig
	fallback *CircuitBreakerManager
	logger   *slog.Logger
}

// RedisCircuitBreakerConfig holds configuration for the Redis circuit breaker.
type RedisCircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before a half-open trial.
	CoolDown time.Duration
	// Window is the time window for counting failures.
	Window time.Duration
}

func DefaultRedisCircuitBreakerConfig() RedisCircuitBreakerConfig {
	return RedisCircuitBreakerConfig{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
		Window:           60 * time.Second,
	}
}

// NewRedisCircuitBreaker creates a new Redis-backed circuit breaker.
// Falls back to the in-memory breaker when Redis is unavailable.
func NewRedisCircuitBreaker(client *redis.Client, config RedisCircuitBreakerConfig, logger *slog.Logger) *RedisCircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisCircuitBreaker{
		client:   client,
		config:   config,
		fallback: NewCircuitBreakerManager(DefaultCircuitBreakerConfig()),
		logger:   logger,
	}
}

func (r *RedisCircuitBreaker) keyState(provider domain.ProviderKind) string {
	return fmt.Sprintf("breaker:%s:state", provider)
}

func (r *RedisCircuitBreaker) keyFailures(provider domain.ProviderKind) string {
	return fmt.Sprintf("breaker:%s:failures", provider)
}

func (r *RedisCircuitBreaker) keyOpenedAt(provider domain.ProviderKind) string {
	return fmt.Sprintf("breaker:%s:opened_at", provider)
}

// allowScript checks if a call is allowed and handles the open→half-open
// transition once the cool-down has elapsed.
// Returns: 1 = allowed, 0 = blocked (circuit open)
var allowScript = redis.NewScript(`
local state_key = KEYS[1]
local opened_at_key = KEYS[2]
local now = tonumber(ARGV[1])
local cooldown_ms = tonumber(ARGV[2])

local state = redis.call('GET', state_key)
if not state then
    state = 'closed'
end

if state == 'closed' then
    return 1
elseif state == 'open' then
    -- A missing opened_at key (expired or flushed) counts as an elapsed
    -- cool-down, otherwise the circuit could stay open with no timestamp
    -- left to age out.
    local opened_at = redis.call('GET', opened_at_key)
    if (not opened_at) or (now - tonumber(opened_at)) >= cooldown_ms then
        -- Transition to half-open, permit the trial call
        redis.call('SET', state_key, 'half-open')
        return 1
    end
    return 0
elseif state == 'half-open' then
    return 1
end

return 1
`)

// Allow checks if a call should be allowed through the circuit breaker.
func (r *RedisCircuitBreaker) Allow(ctx context.Context, provider domain.ProviderKind) (bool, error) {
	now := time.Now().UnixMilli()
	cooldownMs := r.config.CoolDown.Milliseconds()

	result, err := allowScript.Run(ctx, r.client,
		[]string{r.keyState(provider), r.keyOpenedAt(provider)},
		now, cooldownMs,
	).Int()

	if err != nil {
		r.logger.Warn("redis circuit breaker failed, using fallback",
			"error", err,
			"provider", provider,
		)
		return r.fallback.State(provider) != CircuitBreakerStateOpen, nil
	}

	return result == 1, nil
}

// recordSuccessScript: a successful trial in half-open closes the circuit;
// a success while closed resets the consecutive failure count.
var recordSuccessScript = redis.NewScript(`
local state_key = KEYS[1]
local failures_key = KEYS[2]
local opened_at_key = KEYS[3]

local state = redis.call('GET', state_key)
if not state then
    state = 'closed'
end

if state == 'half-open' then
    redis.call('SET', state_key, 'closed')
    redis.call('DEL', failures_key)
    redis.call('DEL', opened_at_key)
elseif state == 'closed' then
    redis.call('DEL', failures_key)
end

return 1
`)

// RecordSuccess records a successful provider call.
func (r *RedisCircuitBreaker) RecordSuccess(ctx context.Context, provider domain.ProviderKind) error {
	_, err := recordSuccessScript.Run(ctx, r.client,
		[]string{r.keyState(provider), r.keyFailures(provider), r.keyOpenedAt(provider)},
	).Result()

	if err != nil {
		r.logger.Warn("redis circuit breaker record success failed",
			"error", err,
			"provider", provider,
		)
	}
	return nil
}

// recordFailureScript: failures while closed accumulate within the window
// and trip the breaker at the threshold; any failure in half-open reopens
// with the cool-down restarted.
var recordFailureScript = redis.NewScript(`
local state_key = KEYS[1]
local failures_key = KEYS[2]
local opened_at_key = KEYS[3]
local failure_threshold = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cooldown_ms = tonumber(ARGV[4])

-- opened_at must outlive the cool-down it gates, so the TTL covers both
-- durations with headroom.
local opened_ttl_ms = math.max(window_ms, cooldown_ms) * 2

local state = redis.call('GET', state_key)
if not state then
    state = 'closed'
end

if state == 'closed' then
    local failures = redis.call('INCR', failures_key)
    redis.call('PEXPIRE', failures_key, window_ms)

    if failures >= failure_threshold then
        redis.call('SET', state_key, 'open')
        redis.call('SET', opened_at_key, now)
        redis.call('PEXPIRE', opened_at_key, opened_ttl_ms)
    end
elseif state == 'half-open' then
    redis.call('SET', state_key, 'open')
    redis.call('SET', opened_at_key, now)
    redis.call('PEXPIRE', opened_at_key, opened_ttl_ms)
    redis.call('DEL', failures_key)
end

return 1
`)

// RecordFailure records a failed provider call.
func (r *RedisCircuitBreaker) RecordFailure(ctx context.Context, provider domain.ProviderKind) error {
	now := time.Now().UnixMilli()

	_, err := recordFailureScript.Run(ctx, r.client,
		[]string{r.keyState(provider), r.keyFailures(provider), r.keyOpenedAt(provider)},
		r.config.FailureThreshold, r.config.Window.Milliseconds(), now, r.config.CoolDown.Milliseconds(),
	).Result()

	if err != nil {
		r.logger.Warn("redis circuit breaker record failure failed",
			"error", err,
			"provider", provider,
		)
	}
	return nil
}

// State returns the current state of the breaker for the provider.
func (r *RedisCircuitBreaker) State(ctx context.Context, provider domain.ProviderKind) (CircuitBreakerState, error) {
	state, err := r.client.Get(ctx, r.keyState(provider)).Result()
	if err == redis.Nil {
		return CircuitBreakerStateClosed, nil
	}
	if err != nil {
		r.logger.Warn("redis circuit breaker state failed, using fallback",
			"error", err,
			"provider", provider,
		)
		return r.fallback.State(provider), nil
	}

	return CircuitBreakerState(state), nil
}
