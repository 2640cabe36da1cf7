package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

func TestCircuitBreakerManager_Execute_Success(t *testing.T) {
	manager := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

	result, err := manager.Execute(domain.ProviderSykes, func() (interface{}, error) {
		return "ok", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected 'ok', got %v", result)
	}
	if manager.State(domain.ProviderSykes) != CircuitBreakerStateClosed {
		t.Errorf("expected closed state, got %v", manager.State(domain.ProviderSykes))
	}
}

func TestCircuitBreakerManager_ConsecutiveFailures_OpensCircuit(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           60 * time.Second,
		CoolDown:         1 * time.Second,
	}
	manager := NewCircuitBreakerManager(config)

	testErr := errors.New("provider down")
	for i := 0; i < 3; i++ {
		_, _ = manager.Execute(domain.ProviderSykes, func() (interface{}, error) {
			return nil, testErr
		})
	}

	if manager.State(domain.ProviderSykes) != CircuitBreakerStateOpen {
		t.Fatalf("expected open state after 3 consecutive failures, got %v", manager.State(domain.ProviderSykes))
	}

	// Calls through an open breaker fail fast without invoking fn.
	called := false
	_, err := manager.Execute(domain.ProviderSykes, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Error("expected fail-fast error through open breaker")
	}
	if called {
		t.Error("fn should not be invoked while the breaker is open")
	}
}

func TestCircuitBreakerManager_HalfOpenTrial_Resets(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 2,
		Window:           60 * time.Second,
		CoolDown:         50 * time.Millisecond,
	}
	manager := NewCircuitBreakerManager(config)

	testErr := errors.New("provider down")
	for i := 0; i < 2; i++ {
		_, _ = manager.Execute(domain.ProviderDatakazina, func() (interface{}, error) {
			return nil, testErr
		})
	}
	if manager.State(domain.ProviderDatakazina) != CircuitBreakerStateOpen {
		t.Fatalf("expected open state, got %v", manager.State(domain.ProviderDatakazina))
	}

	time.Sleep(60 * time.Millisecond)

	// One successful trial call in half-open closes the circuit.
	_, err := manager.Execute(domain.ProviderDatakazina, func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("half-open trial call failed: %v", err)
	}
	if manager.State(domain.ProviderDatakazina) != CircuitBreakerStateClosed {
		t.Errorf("expected closed state after successful trial, got %v", manager.State(domain.ProviderDatakazina))
	}
}

func TestCircuitBreakerManager_OnStateChange(t *testing.T) {
	config := CircuitBreakerConfig{
		FailureThreshold: 2,
		Window:           60 * time.Second,
		CoolDown:         time.Second,
	}
	manager := NewCircuitBreakerManager(config)

	var mu sync.Mutex
	var transitions []CircuitBreakerState

	manager.OnStateChange(func(provider domain.ProviderKind, from, to CircuitBreakerState) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	testErr := errors.New("provider down")
	for i := 0; i < 2; i++ {
		_, _ = manager.Execute(domain.ProviderSykes, func() (interface{}, error) {
			return nil, testErr
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || transitions[len(transitions)-1] != CircuitBreakerStateOpen {
		t.Errorf("expected a transition to open, got %v", transitions)
	}
}

func TestInMemoryCircuitBreaker_Interface(t *testing.T) {
	cb := NewInMemoryCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Window:           60 * time.Second,
		CoolDown:         time.Second,
	})
	ctx := context.Background()

	allowed, err := cb.Allow(ctx, domain.ProviderSykes)
	if err != nil || !allowed {
		t.Fatalf("fresh breaker should allow: %v, %v", allowed, err)
	}

	_ = cb.RecordFailure(ctx, domain.ProviderSykes)
	_ = cb.RecordFailure(ctx, domain.ProviderSykes)

	allowed, _ = cb.Allow(ctx, domain.ProviderSykes)
	if allowed {
		t.Error("breaker should be open after consecutive failures")
	}

	state, _ := cb.State(ctx, domain.ProviderSykes)
	if state != CircuitBreakerStateOpen {
		t.Errorf("state = %v, want open", state)
	}
}
