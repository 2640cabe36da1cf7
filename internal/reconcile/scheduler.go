// Package reconcile polls the active provider for the authoritative status
// of in-flight fulfillments. Webhooks are the fast path; reconciliation is
// the safety net that converges every record to a terminal state even when
// no webhook ever arrives. Records are claimed with FOR UPDATE SKIP LOCKED,
// so multiple scheduler instances never poll the same record twice.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/repository"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/retry"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

const maxRetriesMessage = "max retries exceeded"

// SchedulerConfig holds configuration for the reconciliation scheduler.
type SchedulerConfig struct {
	// PollInterval is how often to look for due records (default: 5m)
	PollInterval time.Duration
	// BatchSize is the maximum number of records claimed per poll (default: 50)
	BatchSize int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 5 * time.Minute,
		BatchSize:    50,
	}
}

// SyncResult summarizes one admin-triggered sync pass.
type SyncResult struct {
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Scheduler drives the reconciliation loop and serves admin sync requests.
type Scheduler struct {
	config    SchedulerConfig
	repo      repository.TrackingRepository
	tracker   *tracker.Tracker
	providers *provider.Factory
	policy    retry.Policy
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	wg     sync.WaitGroup
	stopCh chan struct{}
}

func NewScheduler(
	repo repository.TrackingRepository,
	tr *tracker.Tracker,
	providers *provider.Factory,
	policy retry.Policy,
	config SchedulerConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *Scheduler {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Minute
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scheduler{
		config:    config,
		repo:      repo,
		tracker:   tr,
		providers: providers,
		policy:    policy,
		clock:     clk,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (s *Scheduler) WithMetrics(m *observability.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start runs the reconciliation loop. Blocks until Stop is called or the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reconciliation scheduler started",
		"poll_interval", s.config.PollInterval,
		"batch_size", s.config.BatchSize,
	)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Reconcile immediately on start, then on interval
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.logger.Info("reconciliation scheduler stopping due to stop signal")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// Stop signals the scheduler to stop and waits for in-flight work.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) poll(ctx context.Context) {
	records, err := s.repo.GetDue(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to fetch due records", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.Debug("claimed due records", "count", len(records))
	if s.metrics != nil {
		s.metrics.ReconcileBatchSize.Observe(float64(len(records)))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processBatch(ctx, records)
	}()
}

func (s *Scheduler) processBatch(ctx context.Context, records []*domain.TrackingRecord) {
	var updated, unchanged, failed int
	for _, record := range records {
		changed, err := s.syncOne(ctx, record, domain.SourcePoll)
		switch {
		case err != nil:
			failed++
			s.logger.Warn("reconcile failed",
				"tracking_id", record.ID,
				"provider", record.Provider,
				"error", err,
			)
		case changed:
			updated++
		default:
			unchanged++
		}
		s.reschedule(ctx, record.ID)
	}

	s.logger.Info("reconcile batch processed",
		"total", len(records),
		"updated", updated,
		"unchanged", unchanged,
		"failed", failed,
	)
}

// syncOne fetches the provider-side truth for one record and routes it
// through the transition guard. A record that never reached the provider is
// re-submitted under its original idempotency reference instead.
func (s *Scheduler) syncOne(ctx context.Context, record *domain.TrackingRecord, source domain.TransitionSource) (bool, error) {
	if record.IsTerminal() {
		return false, nil
	}

	if record.ProviderOrderID == nil {
		if err := s.tracker.Redispatch(ctx, record); err != nil {
			return false, err
		}
		return true, nil
	}

	client, err := s.providers.For(record.Provider)
	if err != nil {
		return false, err
	}

	result, err := client.CheckStatus(ctx, *record.ProviderOrderID)
	if err != nil {
		return false, err
	}

	mapped := provider.MapExternalStatus(result.Status)
	changed := mapped != record.Status

	err = s.tracker.ApplyTransition(ctx, record.ID, tracker.Transition{
		Status:         mapped,
		ExternalStatus: result.Status,
		Message:        result.Message,
		Raw:            result.Raw,
		Source:         source,
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// reschedule books the next poll for a record that is still in flight, or
// forces it to failed once the retry budget is spent. A stale write here
// means another instance already moved the record; that is not an error.
func (s *Scheduler) reschedule(ctx context.Context, trackingID string) {
	record, err := s.repo.GetByID(ctx, trackingID)
	if err != nil {
		s.logger.Warn("reschedule load failed", "tracking_id", trackingID, "error", err)
		return
	}
	if record.IsTerminal() {
		return
	}

	attempts := record.RetryCount + 1
	if s.policy.Exhausted(attempts) {
		if s.metrics != nil {
			s.metrics.ReconcileForcedFail.Inc()
		}
		s.logger.Warn("retry budget exhausted, forcing failure",
			"tracking_id", record.ID,
			"attempts", attempts,
		)
		err := s.tracker.ApplyTransition(ctx, record.ID, tracker.Transition{
			Status:  domain.StatusFailed,
			Message: maxRetriesMessage,
			Source:  domain.SourcePoll,
		})
		if err != nil {
			s.logger.Error("forced failure did not apply", "tracking_id", record.ID, "error", err)
		}
		return
	}

	now := s.clock.Now()
	record.RetryCount = attempts
	record.LastRetryAt = &now
	record.ScheduleCheck(now.Add(s.policy.CalculateDelay(attempts + 1)))
	record.UpdatedAt = now

	if err := s.repo.UpdateCAS(ctx, record); err != nil && !errors.Is(err, domain.ErrStaleTransition) {
		s.logger.Warn("reschedule write failed", "tracking_id", record.ID, "error", err)
	}
}

// SyncRecord reconciles a single record on demand for the admin API.
func (s *Scheduler) SyncRecord(ctx context.Context, trackingID string) (SyncResult, error) {
	record, err := s.repo.GetByID(ctx, trackingID)
	if err != nil {
		return SyncResult{}, err
	}
	return s.adminSync(ctx, []*domain.TrackingRecord{record})
}

// SyncByProviderOrderID reconciles the record a provider-side order belongs to.
func (s *Scheduler) SyncByProviderOrderID(ctx context.Context, providerOrderID string) (SyncResult, error) {
	record, err := s.repo.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return SyncResult{}, err
	}
	return s.adminSync(ctx, []*domain.TrackingRecord{record})
}

// SyncAllPending reconciles every non-terminal record regardless of
// schedule. Serves the admin bulk-sync endpoint.
func (s *Scheduler) SyncAllPending(ctx context.Context, limit int) (SyncResult, error) {
	if limit <= 0 {
		limit = s.config.BatchSize
	}
	records, err := s.repo.GetPending(ctx, limit)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch pending records: %w", err)
	}
	return s.adminSync(ctx, records)
}

// adminSync reconciles records without touching retry bookkeeping: an
// operator forcing a sync should not burn a record's retry budget.
func (s *Scheduler) adminSync(ctx context.Context, records []*domain.TrackingRecord) (SyncResult, error) {
	var result SyncResult
	for _, record := range records {
		changed, err := s.syncOne(ctx, record, domain.SourceAdmin)
		switch {
		case err != nil:
			result.Failed++
			s.logger.Warn("admin sync failed",
				"tracking_id", record.ID,
				"error", err,
			)
		case changed:
			result.Updated++
		default:
			result.Unchanged++
		}
	}
	return result, nil
}
