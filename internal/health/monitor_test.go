package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/resilience"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(_ context.Context) error { return p.err }

type stubSettings struct {
	settings domain.Settings
}

func (s *stubSettings) Settings() domain.Settings { return s.settings }

type stubProvider struct {
	kind       domain.ProviderKind
	balance    float64
	balanceErr error
	calls      int
}

func (p *stubProvider) Kind() domain.ProviderKind { return p.kind }

func (p *stubProvider) SubmitOrder(_ context.Context, _ provider.SubmitRequest) (*domain.SubmitResult, error) {
	return nil, domain.ErrProviderUnavailable
}

func (p *stubProvider) CheckStatus(_ context.Context, _ string) (*domain.StatusResult, error) {
	return nil, domain.ErrProviderUnavailable
}

func (p *stubProvider) CheckBalance(_ context.Context) (*domain.Balance, error) {
	p.calls++
	if p.balanceErr != nil {
		return nil, p.balanceErr
	}
	return &domain.Balance{Amount: p.balance, Currency: "GHS"}, nil
}

func newTestMonitor(db *stubPinger, sp *stubProvider) (*Monitor, *clock.MockClock) {
	clk := &clock.MockClock{NowTime: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := resilience.NewInMemoryRateLimiter(resilience.DefaultRateLimiterConfig())
	breaker := resilience.NewInMemoryCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	settings := &stubSettings{settings: domain.DefaultSettings()}

	m := NewMonitor(DefaultMonitorConfig(), db, provider.NewFactory(sp), settings, limiter, breaker, clk, logger)
	m.SetReady(true)
	return m, clk
}

func TestEvaluate_AllHealthy(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{}, &stubProvider{kind: domain.ProviderSykes, balance: 500})

	report := m.Evaluate(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want %s (checks: %+v)", report.Status, StatusHealthy, report.Checks)
	}
	if report.ActiveProvider != string(domain.ProviderSykes) {
		t.Errorf("active provider = %s, want sykes", report.ActiveProvider)
	}
}

func TestEvaluate_DatabaseDownIsUnhealthy(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{err: errors.New("connection refused")}, &stubProvider{kind: domain.ProviderSykes, balance: 500})

	report := m.Evaluate(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want %s", report.Status, StatusUnhealthy)
	}
}

func TestEvaluate_LowBalanceDegrades(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{}, &stubProvider{kind: domain.ProviderSykes, balance: 10})

	report := m.Evaluate(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want %s", report.Status, StatusDegraded)
	}
	if report.Checks["balance"].Status != StatusDegraded {
		t.Errorf("balance check = %+v, want degraded", report.Checks["balance"])
	}
}

func TestEvaluate_BalanceErrorDegrades(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{}, &stubProvider{kind: domain.ProviderSykes, balanceErr: domain.ErrProviderUnavailable})

	report := m.Evaluate(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("status = %s, want %s", report.Status, StatusDegraded)
	}
}

func TestEvaluate_MissingActiveProviderIsUnhealthy(t *testing.T) {
	// Factory only knows datakazina while settings point at sykes.
	m, _ := newTestMonitor(&stubPinger{}, &stubProvider{kind: domain.ProviderDatakazina, balance: 500})

	report := m.Evaluate(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want %s", report.Status, StatusUnhealthy)
	}
	if report.Checks["config"].Status != StatusUnhealthy {
		t.Errorf("config check = %+v, want unhealthy", report.Checks["config"])
	}
}

func TestEvaluate_BalanceCached(t *testing.T) {
	sp := &stubProvider{kind: domain.ProviderSykes, balance: 500}
	m, clk := newTestMonitor(&stubPinger{}, sp)

	m.Evaluate(context.Background())
	m.Evaluate(context.Background())
	if sp.calls != 1 {
		t.Errorf("balance calls = %d, want 1 within cache ttl", sp.calls)
	}

	clk.Advance(2 * time.Minute)
	m.Evaluate(context.Background())
	if sp.calls != 2 {
		t.Errorf("balance calls = %d, want 2 after ttl", sp.calls)
	}
}

func TestProbe_AlwaysOK(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{err: errors.New("down")}, &stubProvider{kind: domain.ProviderSykes})

	w := httptest.NewRecorder()
	m.Probe(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestDetails_UnhealthyAnswers503(t *testing.T) {
	m, _ := newTestMonitor(&stubPinger{err: errors.New("down")}, &stubProvider{kind: domain.ProviderSykes, balance: 500})

	w := httptest.NewRecorder()
	m.Details(w, httptest.NewRequest(http.MethodGet, "/health/details", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	var report Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid report body: %v", err)
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("report status = %s, want unhealthy", report.Status)
	}
}
