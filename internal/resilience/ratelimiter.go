// Package resilience provides rate limiting and circuit breaker patterns for
// protecting external fulfillment providers from overload and the engine
// from cascading provider failures.
//
// This package uses:
//   - golang.org/x/time/rate: Token bucket rate limiter from the Go team.
//   - github.com/sony/gobreaker: Circuit breaker implementation by Sony.
//
// State is keyed per provider. Within a process the limiter and breaker for
// a provider are singletons shared by every caller; the Redis-backed
// implementations extend that sharing across processes.
package resilience

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// RateLimiterConfig defines the outbound rate limit toward one provider.
//
// RequestsPerMinute is the steady-state rate the provider contract allows.
// Burst permits short spikes above the steady rate.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             5,
	}
}

// RateLimiterManager maintains per-provider token buckets with lazy
// initialization and double-checked locking.
type RateLimiterManager struct {
	config   RateLimiterConfig
	limiters map[domain.ProviderKind]*rate.Limiter
	mu       sync.RWMutex
}

func NewRateLimiterManager(config RateLimiterConfig) *RateLimiterManager {
	return &RateLimiterManager{
		config:   config,
		limiters: make(map[domain.ProviderKind]*rate.Limiter),
	}
}

func (m *RateLimiterManager) limiter(provider domain.ProviderKind) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[provider]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if limiter, exists = m.limiters[provider]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(perMinute(m.config.RequestsPerMinute), m.config.Burst)
	m.limiters[provider] = limiter
	return limiter
}

// Allow reports whether a call to the provider is allowed right now.
func (m *RateLimiterManager) Allow(provider domain.ProviderKind) bool {
	return m.limiter(provider).Allow()
}

// Headroom returns the number of tokens currently available for the
// provider. Used by the health monitor.
func (m *RateLimiterManager) Headroom(provider domain.ProviderKind) float64 {
	return m.limiter(provider).Tokens()
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}
