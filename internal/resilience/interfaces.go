package resilience

import (
	"context"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// RateLimiter bounds outbound calls toward a provider. Implementations may
// be process-local or backed by a shared store for multi-instance
// deployments.
type RateLimiter interface {
	// Allow reports whether a call to the provider is allowed right now.
	Allow(ctx context.Context, provider domain.ProviderKind) (bool, error)
	// Headroom returns roughly how many calls remain before the limit bites.
	Headroom(ctx context.Context, provider domain.ProviderKind) (float64, error)
}

// CircuitBreaker guards calls toward a provider. Implementations may be
// process-local or backed by a shared store.
type CircuitBreaker interface {
	// Allow checks if a call should be allowed through the breaker.
	Allow(ctx context.Context, provider domain.ProviderKind) (bool, error)
	// RecordSuccess records a successful provider call.
	RecordSuccess(ctx context.Context, provider domain.ProviderKind) error
	// RecordFailure records a failed provider call.
	RecordFailure(ctx context.Context, provider domain.ProviderKind) error
	// State returns the breaker's current state for the provider.
	State(ctx context.Context, provider domain.ProviderKind) (CircuitBreakerState, error)
}

// InMemoryRateLimiter adapts RateLimiterManager to the RateLimiter interface.
type InMemoryRateLimiter struct {
	manager *RateLimiterManager
}

func NewInMemoryRateLimiter(config RateLimiterConfig) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{manager: NewRateLimiterManager(config)}
}

func (a *InMemoryRateLimiter) Allow(ctx context.Context, provider domain.ProviderKind) (bool, error) {
	return a.manager.Allow(provider), nil
}

func (a *InMemoryRateLimiter) Headroom(ctx context.Context, provider domain.ProviderKind) (float64, error) {
	return a.manager.Headroom(provider), nil
}

// InMemoryCircuitBreaker adapts CircuitBreakerManager to the CircuitBreaker
// interface. gobreaker tracks success and failure through explicit marker
// calls on the two-step API, so RecordSuccess/RecordFailure drive a
// zero-work Execute to feed its counters.
type InMemoryCircuitBreaker struct {
	manager *CircuitBreakerManager
}

func NewInMemoryCircuitBreaker(config CircuitBreakerConfig) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{manager: NewCircuitBreakerManager(config)}
}

func (a *InMemoryCircuitBreaker) Allow(ctx context.Context, provider domain.ProviderKind) (bool, error) {
	return a.manager.State(provider) != CircuitBreakerStateOpen, nil
}

func (a *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context, provider domain.ProviderKind) error {
	_, _ = a.manager.Execute(provider, func() (interface{}, error) { return nil, nil })
	return nil
}

func (a *InMemoryCircuitBreaker) RecordFailure(ctx context.Context, provider domain.ProviderKind) error {
	_, _ = a.manager.Execute(provider, func() (interface{}, error) { return nil, domain.ErrProviderUnavailable })
	return nil
}

func (a *InMemoryCircuitBreaker) State(ctx context.Context, provider domain.ProviderKind) (CircuitBreakerState, error) {
	return a.manager.State(provider), nil
}

// OnStateChange sets a callback for breaker state changes.
func (a *InMemoryCircuitBreaker) OnStateChange(fn func(provider domain.ProviderKind, from, to CircuitBreakerState)) {
	a.manager.OnStateChange(fn)
}
