// Package tracker implements the fulfillment state machine: it owns
// tracking records, performs dispatch against the active provider, and
// serializes status transitions behind the monotonic-priority guard.
//
// Transition flow:
//
//	┌──────────┐     ┌──────────────┐     ┌───────────────┐
//	│ Webhook  │     │ Reconciler   │     │ Admin sync    │
//	└────┬─────┘     └──────┬───────┘     └──────┬────────┘
//	     │                  │                    │
//	     └──────────────────┼────────────────────┘
//	                        │
//	                 ┌──────▼────────┐
//	                 │ ApplyTransition│  (priority guard + CAS)
//	                 └──────┬────────┘
//	                        │
//	                 ┌──────▼──────┐
//	                 │ PostgreSQL  │
//	                 └─────────────┘
//
// Two transitions racing on one record are serialized by the version CAS in
// the repository; the loser re-reads and re-evaluates the guard, so a stale
// write is a silent no-op rather than an error for its origin.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/phone"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/repository"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/retry"
)

// OrderStore is the order-management collaborator: it receives the terminal
// outcome of each fulfillment attempt exactly once.
type OrderStore interface {
	RecordOutcome(ctx context.Context, outcome domain.Outcome) error
}

// Notifier delivers the customer-facing notification for a terminal
// outcome. Invoked at most once per tracking record.
type Notifier interface {
	Send(ctx context.Context, outcome domain.Outcome) error
}

// casAttempts bounds how often a transition re-reads after losing the
// version race before giving up as stale.
const casAttempts = 3

type Tracker struct {
	repo         repository.TrackingRepository
	settingsRepo repository.SettingsRepository
	providers    *provider.Factory
	policy       retry.Policy
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
	orders       OrderStore
	notifier     Notifier

	mu       sync.RWMutex
	settings domain.Settings
}

func New(
	repo repository.TrackingRepository,
	settingsRepo repository.SettingsRepository,
	providers *provider.Factory,
	policy retry.Policy,
	clk clock.Clock,
	logger *slog.Logger,
) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		repo:         repo,
		settingsRepo: settingsRepo,
		providers:    providers,
		policy:       policy,
		clock:        clk,
		logger:       logger,
		settings:     domain.DefaultSettings(),
	}
}

// WithMetrics enables Prometheus metrics collection.
func (t *Tracker) WithMetrics(m *observability.Metrics) *Tracker {
	t.metrics = m
	return t
}

// WithCollaborators wires the order store and customer notifier that
// receive terminal outcomes.
func (t *Tracker) WithCollaborators(orders OrderStore, notifier Notifier) *Tracker {
	t.orders = orders
	t.notifier = notifier
	return t
}

// ReloadSettings refreshes the admin-controlled settings snapshot. Called
// at startup and whenever the admin flips the active provider or a toggle.
func (t *Tracker) ReloadSettings(ctx context.Context) error {
	if t.settingsRepo == nil {
		return nil
	}
	settings, err := t.settingsRepo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()

	t.logger.Info("settings reloaded",
		"active_provider", settings.ActiveProvider,
		"auto_fulfillment", settings.AutoFulfillment,
	)
	return nil
}

// Settings returns the current settings snapshot.
func (t *Tracker) Settings() domain.Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// Get returns a tracking record by its ID.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	return t.repo.GetByID(ctx, id)
}

// ByProviderOrderID resolves the tracking record a provider-side order
// belongs to. Used by the webhook receiver and admin sync.
func (t *Tracker) ByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TrackingRecord, error) {
	return t.repo.GetByProviderOrderID(ctx, providerOrderID)
}

// Dispatch validates the request, creates the tracking record, and submits
// it to the active provider. The record is persisted as pending before the
// provider sees the order: its ID doubles as the provider idempotency
// reference, and the live-order unique index in the repository makes the
// insert the arbiter between concurrent dispatches for the same local
// order. The loser gets ErrDuplicateDispatch without ever reaching the
// provider, so two racing dispatches can never double-charge the wallet.
func (t *Tracker) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.TrackingRecord, error) {
	canonical, err := phone.Normalize(req.RecipientPhone)
	if err != nil {
		return nil, err
	}
	if req.Network != domain.NetworkNone && !phone.Matches(canonical, req.Network) {
		return nil, fmt.Errorf("%w: %s is not a %s number", domain.ErrNetworkMismatch, canonical, req.Network)
	}
	network := req.Network
	if network == domain.NetworkNone {
		network = phone.NetworkOf(canonical)
	}

	settings := t.Settings()
	if !settings.NetworkEligible(network) {
		return nil, fmt.Errorf("%w: network %s is disabled", domain.ErrProviderRejected, network)
	}

	// A prior attempt still live (anything but terminally failed) means a
	// second dispatch would risk a duplicate bundle. A new attempt is only
	// allowed after an explicit terminal failure. This read is the fast
	// path; the unique index behind Create settles concurrent dispatches
	// that both pass it.
	if existing, err := t.repo.GetLiveByLocalOrder(ctx, req.LocalOrderID, req.LocalOrderType); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: tracking %s", domain.ErrDuplicateDispatch, existing.ID)
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check live tracking: %w", err)
	}

	client, err := t.providers.For(settings.ActiveProvider)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now()
	record := &domain.TrackingRecord{
		ID:             uuid.NewString(),
		LocalOrderID:   req.LocalOrderID,
		LocalOrderType: req.LocalOrderType,
		Provider:       settings.ActiveProvider,
		RecipientPhone: canonical,
		Network:        network,
		SizeGB:         req.SizeGB,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Scheduled before the submit: if the process dies between Create and
	// SubmitOrder, the reconciler redispatches the pending record under the
	// same idempotency reference.
	record.ScheduleCheck(now.Add(t.policy.CalculateDelay(1)))

	if err := t.repo.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDuplicateDispatch) {
			return nil, err
		}
		return nil, fmt.Errorf("create tracking record: %w", err)
	}

	result, submitErr := client.SubmitOrder(ctx, provider.SubmitRequest{
		Phone:          canonical,
		Network:        network,
		SizeGB:         req.SizeGB,
		IdempotencyKey: record.ID,
	})

	scheduleAt := now.Add(t.policy.CalculateDelay(1))
	var transition Transition
	switch {
	case submitErr == nil:
		transition = Transition{
			Status:          domain.StatusProcessing,
			ExternalStatus:  result.InitialStatus,
			Raw:             result.Raw,
			ProviderOrderID: result.ProviderOrderID,
			ScheduleAt:      &scheduleAt,
			Source:          domain.SourceDispatch,
		}
		t.countDispatch(settings.ActiveProvider, "dispatched")

	case errors.Is(submitErr, domain.ErrProviderRejected):
		// Business rejection is terminal and never retried.
		transition = Transition{
			Status:  domain.StatusFailed,
			Message: submitErr.Error(),
			Source:  domain.SourceDispatch,
		}
		t.countDispatch(settings.ActiveProvider, "rejected")

	default:
		// Transient and unclassified submit errors both leave the record
		// retrying; the reconciler redispatches it under the same reference.
		transition = Transition{
			Status:     domain.StatusRetrying,
			Message:    submitErr.Error(),
			ScheduleAt: &scheduleAt,
			Source:     domain.SourceDispatch,
		}
		t.countDispatch(settings.ActiveProvider, "retrying")
	}

	if err := t.ApplyTransition(ctx, record.ID, transition); err != nil {
		return nil, err
	}

	record, err = t.repo.GetByID(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	t.logger.Info("order dispatched",
		"tracking_id", record.ID,
		"local_order_id", record.LocalOrderID,
		"provider", record.Provider,
		"status", record.Status,
		"error", submitErr,
	)

	return record, nil
}

// Redispatch re-submits a retrying record that never reached the provider,
// reusing the original idempotency reference. Called by the reconciliation
// scheduler for due records without a provider order ID.
func (t *Tracker) Redispatch(ctx context.Context, record *domain.TrackingRecord) error {
	client, err := t.providers.For(record.Provider)
	if err != nil {
		return err
	}

	result, submitErr := client.SubmitOrder(ctx, provider.SubmitRequest{
		Phone:          record.RecipientPhone,
		Network:        record.Network,
		SizeGB:         record.SizeGB,
		IdempotencyKey: record.ID,
	})

	if submitErr != nil {
		if errors.Is(submitErr, domain.ErrProviderRejected) {
			return t.ApplyTransition(ctx, record.ID, Transition{
				Status:  domain.StatusFailed,
				Message: submitErr.Error(),
				Source:  domain.SourcePoll,
			})
		}
		return submitErr
	}

	record.SetProviderOrderID(result.ProviderOrderID)
	return t.ApplyTransition(ctx, record.ID, Transition{
		Status:          domain.StatusProcessing,
		ExternalStatus:  result.InitialStatus,
		Raw:             result.Raw,
		ProviderOrderID: result.ProviderOrderID,
		Source:          domain.SourcePoll,
	})
}

// Transition is one status-change request against a tracking record,
// originating from a webhook, a reconciliation poll, or an admin sync.
type Transition struct {
	Status         domain.FulfillmentStatus
	ExternalStatus string
	Message        string
	Raw            json.RawMessage
	// ProviderOrderID, when non-empty, is stored if the record does not
	// already carry one. It is never overwritten.
	ProviderOrderID string
	// ScheduleAt, when set, becomes the next reconciliation poll time.
	// Ignored when the transition lands a terminal state.
	ScheduleAt *time.Time
	Source     domain.TransitionSource
}

// ApplyTransition routes a status change through the monotonic guard. A
// transition to a lower priority, or any transition on a terminal record,
// is dropped silently: logged and counted, never an error for the caller.
// The outcome notification fires exactly once, on the write that first
// lands a terminal state.
func (t *Tracker) ApplyTransition(ctx context.Context, trackingID string, tr Transition) error {
	next := tr.Status
	if !next.Valid() {
		return fmt.Errorf("invalid target status %q", next)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		record, err := t.repo.GetByID(ctx, trackingID)
		if err != nil {
			return err
		}

		if record.IsTerminal() {
			// Diagnostics are still recorded for audit; status is not.
			t.dropTransition(tr.Source, "terminal", record, next)
			if len(tr.Raw) > 0 || tr.ExternalStatus != "" {
				if err := t.repo.AppendDiagnostics(ctx, record.ID, tr.ExternalStatus, tr.Message, tr.Raw); err != nil {
					t.logger.Warn("append diagnostics failed", "tracking_id", record.ID, "error", err)
				}
			}
			return nil
		}

		if !record.CanTransitionTo(next) {
			t.dropTransition(tr.Source, "priority", record, next)
			return nil
		}

		now := t.clock.Now()

		record.Status = next
		if tr.ProviderOrderID != "" {
			record.SetProviderOrderID(tr.ProviderOrderID)
		}
		if tr.ExternalStatus != "" {
			record.ExternalStatus = &tr.ExternalStatus
		}
		if tr.Message != "" {
			record.ExternalMessage = &tr.Message
		}
		if len(tr.Raw) > 0 {
			record.RawResponse = tr.Raw
		}
		if tr.Source == domain.SourceWebhook && record.WebhookAt == nil {
			webhookAt := now
			record.WebhookAt = &webhookAt
		}
		if tr.ScheduleAt != nil {
			record.ScheduleCheck(*tr.ScheduleAt)
		}
		if next.IsTerminal() {
			record.ClearSchedule()
		}
		record.UpdatedAt = now

		err = t.repo.UpdateCAS(ctx, record)
		if errors.Is(err, domain.ErrStaleTransition) {
			// Lost the race; re-read and re-evaluate the guard.
			continue
		}
		if err != nil {
			return fmt.Errorf("persist transition: %w", err)
		}

		if t.metrics != nil {
			t.metrics.TransitionsTotal.WithLabelValues(string(tr.Source), string(next)).Inc()
		}
		t.logger.Info("transition applied",
			"tracking_id", record.ID,
			"status", next,
			"source", tr.Source,
			"external_status", tr.ExternalStatus,
		)

		// The guard above makes this the first terminal write: a record
		// already terminal never reaches this point, so the outcome fires
		// exactly once.
		if next.IsTerminal() {
			t.emitOutcome(ctx, record)
		}
		return nil
	}

	// Every attempt lost the CAS race; by now another writer has moved the
	// record at least as far as this transition would have.
	t.logger.Debug("transition abandoned after cas retries",
		"tracking_id", trackingID,
		"status", next,
		"source", tr.Source,
	)
	if t.metrics != nil {
		t.metrics.TransitionsDropped.WithLabelValues(string(tr.Source), "cas").Inc()
	}
	return nil
}

func (t *Tracker) dropTransition(source domain.TransitionSource, reason string, record *domain.TrackingRecord, next domain.FulfillmentStatus) {
	t.logger.Info("transition dropped",
		"tracking_id", record.ID,
		"current", record.Status,
		"attempted", next,
		"source", source,
		"reason", reason,
	)
	if t.metrics != nil {
		t.metrics.TransitionsDropped.WithLabelValues(string(source), reason).Inc()
	}
}

// emitOutcome reports the terminal result to the order store and customer
// notifier. Callers guarantee it runs only on the first entry into a
// terminal state; collaborator failures are logged for manual follow-up
// rather than unwinding the already-committed transition.
func (t *Tracker) emitOutcome(ctx context.Context, record *domain.TrackingRecord) {
	outcome := domain.Outcome{
		TrackingID:     record.ID,
		LocalOrderID:   record.LocalOrderID,
		LocalOrderType: record.LocalOrderType,
		Status:         record.Status,
	}
	if record.ExternalMessage != nil {
		outcome.ExternalMessage = *record.ExternalMessage
	}

	if t.metrics != nil {
		t.metrics.OutcomesTotal.WithLabelValues(string(record.Status)).Inc()
	}

	if t.orders != nil {
		if err := t.orders.RecordOutcome(ctx, outcome); err != nil {
			t.logger.Error("record outcome failed",
				"tracking_id", record.ID,
				"local_order_id", record.LocalOrderID,
				"error", err,
			)
		}
	}
	if t.notifier != nil {
		if err := t.notifier.Send(ctx, outcome); err != nil {
			t.logger.Error("outcome notification failed",
				"tracking_id", record.ID,
				"error", err,
			)
		}
	}
}

func (t *Tracker) countDispatch(kind domain.ProviderKind, result string) {
	if t.metrics != nil {
		t.metrics.DispatchesTotal.WithLabelValues(string(kind), result).Inc()
	}
}
