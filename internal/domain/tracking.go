package domain

import (
	"encoding/json"
	"time"
)

type FulfillmentStatus string

const (
	StatusPending    FulfillmentStatus = "pending"
	StatusProcessing FulfillmentStatus = "processing"
	StatusRetrying   FulfillmentStatus = "retrying"
	StatusCompleted  FulfillmentStatus = "completed"
	StatusFailed     FulfillmentStatus = "failed"
)

// statusPriority orders statuses for the monotonic transition guard.
// retrying and processing share a priority so the processing→retrying→processing
// self-loop is allowed, while a late "processing" webhook can never pull a
// record out of a terminal state.
var statusPriority = map[FulfillmentStatus]int{
	StatusPending:    1,
	StatusProcessing: 2,
	StatusRetrying:   2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// Priority returns the monotonic-guard priority of s, or 0 for unknown statuses.
func (s FulfillmentStatus) Priority() int {
	return statusPriority[s]
}

// IsTerminal reports whether s accepts no further status transitions.
func (s FulfillmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s FulfillmentStatus) Valid() bool {
	_, ok := statusPriority[s]
	return ok
}

// TransitionSource identifies which path produced a status transition.
type TransitionSource string

const (
	SourceDispatch TransitionSource = "dispatch"
	SourceWebhook  TransitionSource = "webhook"
	SourcePoll     TransitionSource = "poll"
	SourceAdmin    TransitionSource = "admin"
)

// TrackingRecord is the engine's record of one fulfillment attempt lifecycle.
// The tracker owns ID and Status; LocalOrderID/LocalOrderType reference the
// order-placement collaborator and are never mutated here.
type TrackingRecord struct {
	ID              string            `json:"id"`
	LocalOrderID    string            `json:"local_order_id"`
	LocalOrderType  string            `json:"local_order_type"`
	Provider        ProviderKind      `json:"provider"`
	ProviderOrderID *string           `json:"provider_order_id,omitempty"`
	RecipientPhone  string            `json:"recipient_phone"`
	Network         Network           `json:"network"`
	SizeGB          float64           `json:"size_gb"`
	Status          FulfillmentStatus `json:"status"`
	RetryCount      int               `json:"retry_count"`
	LastRetryAt     *time.Time        `json:"last_retry_at,omitempty"`
	NextCheckAt     *time.Time        `json:"next_check_at,omitempty"`
	ExternalStatus  *string           `json:"external_status,omitempty"`
	ExternalMessage *string           `json:"external_message,omitempty"`
	WebhookAt       *time.Time        `json:"webhook_received_at,omitempty"`
	RawResponse     json.RawMessage   `json:"raw_response_payload,omitempty"`
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CanTransitionTo applies the monotonic guard: a transition is accepted only
// when the record is not terminal and the target priority is not lower than
// the current one.
func (r *TrackingRecord) CanTransitionTo(next FulfillmentStatus) bool {
	if r.Status.IsTerminal() {
		return false
	}
	return next.Priority() >= r.Status.Priority()
}

// IsTerminal reports whether the record has reached completed or failed.
func (r *TrackingRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// SetProviderOrderID records the provider's identifier. It is set at most
// once; later values are ignored.
func (r *TrackingRecord) SetProviderOrderID(id string) {
	if r.ProviderOrderID != nil || id == "" {
		return
	}
	r.ProviderOrderID = &id
}

// ScheduleCheck sets the next reconciliation poll time.
func (r *TrackingRecord) ScheduleCheck(at time.Time) {
	r.NextCheckAt = &at
}

// ClearSchedule removes the record from the reconciliation schedule.
// Called on entry into a terminal state.
func (r *TrackingRecord) ClearSchedule() {
	r.NextCheckAt = nil
}
