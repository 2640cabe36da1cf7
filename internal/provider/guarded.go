package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/resilience"
)

// GuardedConfig tunes the decorator around a raw provider client.
type GuardedConfig struct {
	// CallTimeout bounds every provider call. A call past the deadline is a
	// transient failure feeding the standard retry path.
	CallTimeout time.Duration
	// StatusRetries is how many extra attempts CheckStatus gets on
	// transient failure, with capped exponential backoff between attempts.
	StatusRetries int
	// StatusBackoff is the initial backoff between CheckStatus attempts.
	StatusBackoff time.Duration
	// StatusBackoffCap caps the backoff between CheckStatus attempts.
	StatusBackoffCap time.Duration
}

func DefaultGuardedConfig() GuardedConfig {
	return GuardedConfig{
		CallTimeout:      10 * time.Second,
		StatusRetries:    2,
		StatusBackoff:    200 * time.Millisecond,
		StatusBackoffCap: 2 * time.Second,
	}
}

// Guarded wraps a provider client with the per-provider rate limiter and
// circuit breaker. Every outbound call acquires the limiter first, then
// consults the breaker; denials surface as ErrRateLimited / ErrCircuitOpen,
// both transient in the taxonomy so the scheduler re-queues rather than
// abandoning the order.
type Guarded struct {
	inner          Client
	config         GuardedConfig
	rateLimiter    resilience.RateLimiter
	circuitBreaker resilience.CircuitBreaker
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *observability.Metrics

	stateMu   sync.Mutex
	lastState resilience.CircuitBreakerState
}

func NewGuarded(inner Client, rl resilience.RateLimiter, cb resilience.CircuitBreaker, config GuardedConfig, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = 10 * time.Second
	}
	return &Guarded{
		inner:          inner,
		config:         config,
		rateLimiter:    rl,
		circuitBreaker: cb,
		clock:          clock.RealClock{},
		logger:         logger,
		lastState:      resilience.CircuitBreakerStateClosed,
	}
}

// WithMetrics enables Prometheus metrics for calls through this decorator.
func (g *Guarded) WithMetrics(m *observability.Metrics) *Guarded {
	g.metrics = m
	return g
}

// WithClock replaces the wall clock, letting tests drive the CheckStatus
// backoff without sleeping.
func (g *Guarded) WithClock(clk clock.Clock) *Guarded {
	if clk != nil {
		g.clock = clk
	}
	return g
}

func (g *Guarded) Kind() domain.ProviderKind {
	return g.inner.Kind()
}

func (g *Guarded) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.SubmitResult, error) {
	var result *domain.SubmitResult
	err := g.call(ctx, "submit_order", func(ctx context.Context) error {
		var err error
		result, err = g.inner.SubmitOrder(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Guarded) CheckStatus(ctx context.Context, providerOrderID string) (*domain.StatusResult, error) {
	var result *domain.StatusResult

	backoff := g.config.StatusBackoff
	attempts := g.config.StatusRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
			case <-g.clock.After(backoff):
			}
			backoff *= 2
			if g.config.StatusBackoffCap > 0 && backoff > g.config.StatusBackoffCap {
				backoff = g.config.StatusBackoffCap
			}
		}

		lastErr = g.call(ctx, "check_status", func(ctx context.Context) error {
			var err error
			result, err = g.inner.CheckStatus(ctx, providerOrderID)
			return err
		})
		if lastErr == nil {
			return result, nil
		}
		// CheckStatus is read-only; only transient failures are worth a
		// second attempt, and a denied limiter or open breaker means the
		// whole poll should back off instead.
		if !domain.IsTransient(lastErr) || isBackpressure(lastErr) {
			return nil, lastErr
		}
		g.logger.Debug("status check retry",
			"provider", g.inner.Kind(),
			"provider_order_id", providerOrderID,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	return nil, lastErr
}

func (g *Guarded) CheckBalance(ctx context.Context) (*domain.Balance, error) {
	var result *domain.Balance
	err := g.call(ctx, "check_balance", func(ctx context.Context) error {
		var err error
		result, err = g.inner.CheckBalance(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// call applies the limiter, breaker, and call timeout around fn, and feeds
// the breaker with the outcome. Rejections (4xx) are not provider faults
// and do not count as breaker failures.
func (g *Guarded) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	kind := g.inner.Kind()

	if g.rateLimiter != nil {
		allowed, err := g.rateLimiter.Allow(ctx, kind)
		if err != nil {
			g.logger.Warn("rate limiter error", "provider", kind, "error", err)
		}
		if !allowed {
			if g.metrics != nil {
				g.metrics.RateLimiterDenied.WithLabelValues(string(kind)).Inc()
			}
			return domain.ErrRateLimited
		}
	}

	if g.circuitBreaker != nil {
		allowed, err := g.circuitBreaker.Allow(ctx, kind)
		if err != nil {
			g.logger.Warn("circuit breaker error", "provider", kind, "error", err)
		}
		if !allowed {
			g.observeBreakerState(ctx, kind)
			return domain.ErrCircuitOpen
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	defer cancel()

	start := g.clock.Now()
	err := fn(callCtx)
	if g.metrics != nil {
		g.metrics.ProviderCallSeconds.WithLabelValues(string(kind), operation).Observe(g.clock.Now().Sub(start).Seconds())
	}

	if g.circuitBreaker != nil {
		if err == nil || !domain.IsTransient(err) {
			_ = g.circuitBreaker.RecordSuccess(ctx, kind)
		} else {
			_ = g.circuitBreaker.RecordFailure(ctx, kind)
		}
		g.observeBreakerState(ctx, kind)
	}

	return err
}

// observeBreakerState exports the breaker state gauge and counts
// transitions into open.
func (g *Guarded) observeBreakerState(ctx context.Context, kind domain.ProviderKind) {
	if g.metrics == nil || g.circuitBreaker == nil {
		return
	}
	state, err := g.circuitBreaker.State(ctx, kind)
	if err != nil {
		return
	}

	var value float64
	switch state {
	case resilience.CircuitBreakerStateHalfOpen:
		value = 1
	case resilience.CircuitBreakerStateOpen:
		value = 2
	}
	g.metrics.CircuitBreakerState.WithLabelValues(string(kind)).Set(value)

	g.stateMu.Lock()
	tripped := state == resilience.CircuitBreakerStateOpen && g.lastState != resilience.CircuitBreakerStateOpen
	g.lastState = state
	g.stateMu.Unlock()
	if tripped {
		g.metrics.CircuitBreakerTrips.WithLabelValues(string(kind)).Inc()
	}
}

func isBackpressure(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrCircuitOpen)
}
