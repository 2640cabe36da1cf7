// Package health aggregates the engine's operational signals into a single
// verdict: database reachability, circuit breaker state, rate limit
// headroom, and the active provider's wallet balance.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/resilience"
)

// Status is the aggregate verdict. unhealthy means dispatching cannot work
// at all; degraded means it works with reduced confidence.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is the database reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SettingsSource exposes the current engine settings snapshot.
type SettingsSource interface {
	Settings() domain.Settings
}

type MonitorConfig struct {
	// BalanceAlertThreshold marks the wallet balance below which the
	// verdict degrades (default: 50).
	BalanceAlertThreshold float64
	// BalanceCacheTTL bounds how often the provider balance endpoint is
	// hit by health probes (default: 1m).
	BalanceCacheTTL time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		BalanceAlertThreshold: 50,
		BalanceCacheTTL:       time.Minute,
	}
}

type Monitor struct {
	config    MonitorConfig
	db        Pinger
	providers *provider.Factory
	settings  SettingsSource
	limiter   resilience.RateLimiter
	breaker   resilience.CircuitBreaker
	clock     clock.Clock
	logger    *slog.Logger

	ready atomic.Bool

	mu         sync.Mutex
	balance    *domain.Balance
	balanceErr error
	balanceAt  time.Time
}

func NewMonitor(
	config MonitorConfig,
	db Pinger,
	providers *provider.Factory,
	settings SettingsSource,
	limiter resilience.RateLimiter,
	breaker resilience.CircuitBreaker,
	clk clock.Clock,
	logger *slog.Logger,
) *Monitor {
	if config.BalanceAlertThreshold == 0 {
		config.BalanceAlertThreshold = 50
	}
	if config.BalanceCacheTTL == 0 {
		config.BalanceCacheTTL = time.Minute
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		config:    config,
		db:        db,
		providers: providers,
		settings:  settings,
		limiter:   limiter,
		breaker:   breaker,
		clock:     clk,
		logger:    logger,
	}
}

// SetReady flips the startup gate once dependencies are wired.
func (m *Monitor) SetReady(ready bool) {
	m.ready.Store(ready)
}

// Check is one named signal in the detailed report.
type Check struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is the full health verdict.
type Report struct {
	Status         Status           `json:"status"`
	ActiveProvider string           `json:"active_provider"`
	Checks         map[string]Check `json:"checks"`
}

// Evaluate computes the aggregate verdict. Database unreachability or an
// unready process is unhealthy; everything else at worst degrades.
func (m *Monitor) Evaluate(ctx context.Context) Report {
	report := Report{
		Status: StatusHealthy,
		Checks: make(map[string]Check),
	}

	if !m.ready.Load() {
		report.Checks["app"] = Check{Status: StatusUnhealthy, Detail: "not ready"}
	} else {
		report.Checks["app"] = Check{Status: StatusHealthy}
	}

	if m.db != nil {
		if err := m.db.Ping(ctx); err != nil {
			report.Checks["database"] = Check{Status: StatusUnhealthy, Detail: err.Error()}
		} else {
			report.Checks["database"] = Check{Status: StatusHealthy}
		}
	}

	active := m.settings.Settings().ActiveProvider
	report.ActiveProvider = string(active)

	if _, err := m.providers.For(active); err != nil {
		report.Checks["config"] = Check{Status: StatusUnhealthy, Detail: err.Error()}
	} else {
		report.Checks["config"] = Check{Status: StatusHealthy}
	}

	report.Checks["circuit_breaker"] = m.breakerCheck(ctx, active)
	report.Checks["rate_limit"] = m.headroomCheck(ctx, active)
	report.Checks["balance"] = m.balanceCheck(ctx, active)

	for _, check := range report.Checks {
		switch check.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (m *Monitor) breakerCheck(ctx context.Context, active domain.ProviderKind) Check {
	if m.breaker == nil {
		return Check{Status: StatusHealthy, Detail: "disabled"}
	}
	state, err := m.breaker.State(ctx, active)
	if err != nil {
		return Check{Status: StatusDegraded, Detail: err.Error()}
	}
	switch state {
	case resilience.CircuitBreakerStateOpen:
		return Check{Status: StatusDegraded, Detail: "open"}
	case resilience.CircuitBreakerStateHalfOpen:
		return Check{Status: StatusDegraded, Detail: "half-open"}
	}
	return Check{Status: StatusHealthy, Detail: "closed"}
}

func (m *Monitor) headroomCheck(ctx context.Context, active domain.ProviderKind) Check {
	if m.limiter == nil {
		return Check{Status: StatusHealthy, Detail: "disabled"}
	}
	headroom, err := m.limiter.Headroom(ctx, active)
	if err != nil {
		return Check{Status: StatusDegraded, Detail: err.Error()}
	}
	if headroom < 1 {
		return Check{Status: StatusDegraded, Detail: "rate limit exhausted"}
	}
	return Check{Status: StatusHealthy, Detail: fmt.Sprintf("%.0f calls available", headroom)}
}

func (m *Monitor) balanceCheck(ctx context.Context, active domain.ProviderKind) Check {
	balance, err := m.cachedBalance(ctx, active)
	if err != nil {
		return Check{Status: StatusDegraded, Detail: err.Error()}
	}
	if balance.Amount < m.config.BalanceAlertThreshold {
		return Check{
			Status: StatusDegraded,
			Detail: fmt.Sprintf("balance %.2f %s below threshold %.2f", balance.Amount, balance.Currency, m.config.BalanceAlertThreshold),
		}
	}
	return Check{Status: StatusHealthy, Detail: fmt.Sprintf("%.2f %s", balance.Amount, balance.Currency)}
}

// cachedBalance serves the wallet balance from a short-lived cache so
// frequent probes do not spend provider rate limit.
func (m *Monitor) cachedBalance(ctx context.Context, active domain.ProviderKind) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.balanceAt.Add(m.config.BalanceCacheTTL).After(now) && (m.balance != nil || m.balanceErr != nil) {
		return m.balance, m.balanceErr
	}

	client, err := m.providers.For(active)
	if err != nil {
		return nil, err
	}

	balance, err := client.CheckBalance(ctx)
	m.balance = balance
	m.balanceErr = err
	m.balanceAt = now
	if err != nil {
		m.logger.Warn("balance check failed", "provider", active, "error", err)
	}
	return balance, err
}

// Probe is the lightweight liveness handler, GET /health.
func (m *Monitor) Probe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Details is the full readiness handler, GET /health/details. Degraded
// still answers 200: the engine works, operators should look.
func (m *Monitor) Details(w http.ResponseWriter, r *http.Request) {
	report := m.Evaluate(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
