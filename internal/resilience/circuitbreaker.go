package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// Circuit Breaker Pattern Implementation
//
// The circuit breaker stops calls to a failing provider. It has three states:
//
//   - Closed: Normal operation, calls pass through.
//   - Open: Provider is failing, calls fail fast with ErrCircuitOpen.
//   - Half-Open: A single trial call is permitted after the cool-down.
//
// State transitions:
//
//	[Closed] ---(consecutive failure threshold reached)---> [Open]
//	[Open] ---(cool-down expires)---> [Half-Open]
//	[Half-Open] ---(trial succeeds)---> [Closed]
//	[Half-Open] ---(trial fails)---> [Open]

// CircuitBreakerConfig defines the breaker behavior per provider.
//
// FailureThreshold is the number of consecutive failures that trips the
// breaker. Window is the cyclic period for clearing counts while closed.
// CoolDown is how long the breaker stays open before a half-open trial.
type CircuitBreakerConfig struct {
	FailureThreshold uint32
	Window           time.Duration
	CoolDown         time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		CoolDown:         30 * time.Second,
	}
}

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState string

const (
	CircuitBreakerStateClosed   CircuitBreakerState = "closed"
	CircuitBreakerStateOpen     CircuitBreakerState = "open"
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerManager maintains per-provider circuit breakers. Each
// provider gets an independent breaker so a Sykes outage cannot block a
// switch to Datakazina.
type CircuitBreakerManager struct {
	config   CircuitBreakerConfig
	breakers map[domain.ProviderKind]*gobreaker.CircuitBreaker
	mu       sync.RWMutex

	onStateChange func(provider domain.ProviderKind, from, to CircuitBreakerState)
}

func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[domain.ProviderKind]*gobreaker.CircuitBreaker),
	}
}

// OnStateChange registers a callback for breaker state transitions.
// Used to emit metrics and logs when breakers open or close.
func (m *CircuitBreakerManager) OnStateChange(fn func(provider domain.ProviderKind, from, to CircuitBreakerState)) {
	m.onStateChange = fn
}

// Breaker returns the circuit breaker for a provider, creating one if needed.
func (m *CircuitBreakerManager) Breaker(provider domain.ProviderKind) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[provider]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists = m.breakers[provider]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name: string(provider),
		// One trial call in half-open decides whether the provider recovered.
		MaxRequests: 1,
		Interval:    m.config.Window,
		Timeout:     m.config.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if m.onStateChange != nil {
				m.onStateChange(domain.ProviderKind(name), toState(from), toState(to))
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[provider] = cb
	return cb
}

// Execute runs a function through the circuit breaker.
// If the breaker is open, returns gobreaker.ErrOpenState without calling fn.
func (m *CircuitBreakerManager) Execute(provider domain.ProviderKind, fn func() (interface{}, error)) (interface{}, error) {
	return m.Breaker(provider).Execute(fn)
}

// State returns the current state of the provider's breaker.
func (m *CircuitBreakerManager) State(provider domain.ProviderKind) CircuitBreakerState {
	return toState(m.Breaker(provider).State())
}

func toState(s gobreaker.State) CircuitBreakerState {
	switch s {
	case gobreaker.StateClosed:
		return CircuitBreakerStateClosed
	case gobreaker.StateOpen:
		return CircuitBreakerStateOpen
	case gobreaker.StateHalfOpen:
		return CircuitBreakerStateHalfOpen
	default:
		return CircuitBreakerStateClosed
	}
}
