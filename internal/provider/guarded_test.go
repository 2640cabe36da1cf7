package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/resilience"
)

// fakeClient scripts provider responses for decorator tests.
type fakeClient struct {
	kind         domain.ProviderKind
	submitErr    error
	statusErrs   []error
	statusResult *domain.StatusResult
	statusCalls  int
	submitCalls  int
}

func (f *fakeClient) Kind() domain.ProviderKind { return f.kind }

func (f *fakeClient) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.SubmitResult, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &domain.SubmitResult{ProviderOrderID: "P-1", InitialStatus: "pending"}, nil
}

func (f *fakeClient) CheckStatus(ctx context.Context, providerOrderID string) (*domain.StatusResult, error) {
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.statusResult != nil {
		return f.statusResult, nil
	}
	return &domain.StatusResult{Status: "processing"}, nil
}

func (f *fakeClient) CheckBalance(ctx context.Context) (*domain.Balance, error) {
	return &domain.Balance{Amount: 100, Currency: "GHS"}, nil
}

func newGuardedForTest(inner Client, rlBurst int) *Guarded {
	rl := resilience.NewInMemoryRateLimiter(resilience.RateLimiterConfig{RequestsPerMinute: 60, Burst: rlBurst})
	cb := resilience.NewInMemoryCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		Window:           time.Minute,
		CoolDown:         time.Second,
	})
	config := DefaultGuardedConfig()
	config.StatusBackoff = time.Millisecond
	config.StatusBackoffCap = 2 * time.Millisecond
	return NewGuarded(inner, rl, cb, config, nil)
}

func TestGuarded_RateLimited(t *testing.T) {
	inner := &fakeClient{kind: domain.ProviderSykes}
	g := newGuardedForTest(inner, 1)
	ctx := context.Background()

	if _, err := g.SubmitOrder(ctx, SubmitRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := g.SubmitOrder(ctx, SubmitRequest{})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if inner.submitCalls != 1 {
		t.Errorf("submitCalls = %d, want 1 (denied call must not reach provider)", inner.submitCalls)
	}
}

func TestGuarded_CircuitOpens(t *testing.T) {
	inner := &fakeClient{kind: domain.ProviderSykes, submitErr: domain.ErrProviderUnavailable}
	g := newGuardedForTest(inner, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.SubmitOrder(ctx, SubmitRequest{})
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := g.SubmitOrder(ctx, SubmitRequest{})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if inner.submitCalls != 3 {
		t.Errorf("submitCalls = %d, want 3 (open breaker must not reach provider)", inner.submitCalls)
	}
}

func TestGuarded_RejectionDoesNotTripBreaker(t *testing.T) {
	inner := &fakeClient{kind: domain.ProviderSykes, submitErr: domain.ErrProviderRejected}
	g := newGuardedForTest(inner, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := g.SubmitOrder(ctx, SubmitRequest{})
		if !errors.Is(err, domain.ErrProviderRejected) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if inner.submitCalls != 5 {
		t.Errorf("submitCalls = %d, want 5 (rejections are not provider faults)", inner.submitCalls)
	}
}

func TestGuarded_CheckStatus_RetriesTransient(t *testing.T) {
	inner := &fakeClient{
		kind:         domain.ProviderSykes,
		statusErrs:   []error{domain.ErrProviderUnavailable, nil},
		statusResult: &domain.StatusResult{Status: "delivered"},
	}
	g := newGuardedForTest(inner, 100)

	result, err := g.CheckStatus(context.Background(), "P-1")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if result.Status != "delivered" {
		t.Errorf("Status = %q, want delivered", result.Status)
	}
	if inner.statusCalls != 2 {
		t.Errorf("statusCalls = %d, want 2", inner.statusCalls)
	}
}

func TestGuarded_CheckStatus_NoRetryOnRejection(t *testing.T) {
	inner := &fakeClient{
		kind:       domain.ProviderSykes,
		statusErrs: []error{domain.ErrProviderRejected},
	}
	g := newGuardedForTest(inner, 100)

	_, err := g.CheckStatus(context.Background(), "P-1")
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("error = %v, want ErrProviderRejected", err)
	}
	if inner.statusCalls != 1 {
		t.Errorf("statusCalls = %d, want 1", inner.statusCalls)
	}
}

// Unique namespace avoids duplicate metric registration across tests.
func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("fulfillment_test_%d", rand.Int63()))
}

func TestGuarded_RecordsLimiterDenials(t *testing.T) {
	inner := &fakeClient{kind: domain.ProviderSykes}
	metrics := newTestMetrics()
	g := newGuardedForTest(inner, 1).WithMetrics(metrics)
	ctx := context.Background()

	if _, err := g.SubmitOrder(ctx, SubmitRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := g.SubmitOrder(ctx, SubmitRequest{}); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}

	denied := testutil.ToFloat64(metrics.RateLimiterDenied.WithLabelValues(string(domain.ProviderSykes)))
	if denied != 1 {
		t.Errorf("rate_limiter_denied_total = %v, want 1", denied)
	}
	if n := testutil.CollectAndCount(metrics.ProviderCallSeconds); n != 1 {
		t.Errorf("provider_call_duration_seconds series = %d, want 1", n)
	}
}

func TestGuarded_RecordsBreakerTrips(t *testing.T) {
	inner := &fakeClient{kind: domain.ProviderSykes, submitErr: domain.ErrProviderUnavailable}
	metrics := newTestMetrics()
	g := newGuardedForTest(inner, 100).WithMetrics(metrics)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.SubmitOrder(ctx, SubmitRequest{}); !errors.Is(err, domain.ErrProviderUnavailable) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := g.SubmitOrder(ctx, SubmitRequest{}); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}

	label := string(domain.ProviderSykes)
	if trips := testutil.ToFloat64(metrics.CircuitBreakerTrips.WithLabelValues(label)); trips != 1 {
		t.Errorf("circuit_breaker_trips_total = %v, want 1", trips)
	}
	if state := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues(label)); state != 2 {
		t.Errorf("circuit_breaker_state = %v, want 2 (open)", state)
	}
}

func TestGuarded_CheckStatus_BackoffUsesClock(t *testing.T) {
	inner := &fakeClient{
		kind:         domain.ProviderSykes,
		statusErrs:   []error{domain.ErrProviderUnavailable, domain.ErrProviderUnavailable, nil},
		statusResult: &domain.StatusResult{Status: "delivered"},
	}
	g := newGuardedForTest(inner, 100)
	g.config.StatusBackoff = time.Hour
	g.config.StatusBackoffCap = 2 * time.Hour
	g.WithClock(&clock.MockClock{NowTime: time.Now()})

	done := make(chan struct{})
	var result *domain.StatusResult
	var err error
	go func() {
		result, err = g.CheckStatus(context.Background(), "P-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CheckStatus blocked on wall time despite the injected clock")
	}
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if result.Status != "delivered" {
		t.Errorf("Status = %q, want delivered", result.Status)
	}
	if inner.statusCalls != 3 {
		t.Errorf("statusCalls = %d, want 3", inner.statusCalls)
	}
}
