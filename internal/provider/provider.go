// Package provider wraps each external fulfillment vendor's HTTP API behind
// a uniform Client interface. Exactly one provider is live at a time; the
// active one is an admin setting resolved through the Factory at dispatch
// time, never a compile-time choice.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// SubmitRequest is a provider-agnostic order submission. IdempotencyKey is
// the client-supplied reference that makes resubmission safe: a repeated
// submit with the same key must never charge the provider balance twice.
type SubmitRequest struct {
	Phone          string
	Network        domain.Network
	SizeGB         float64
	IdempotencyKey string
}

// Client is the uniform interface over one external provider.
type Client interface {
	Kind() domain.ProviderKind
	SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.SubmitResult, error)
	CheckStatus(ctx context.Context, providerOrderID string) (*domain.StatusResult, error)
	CheckBalance(ctx context.Context) (*domain.Balance, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// classifyHTTPError maps a transport error or response status into the
// engine's error taxonomy. Timeouts and 5xx are transient; 4xx is a
// business rejection carried with the provider's message verbatim.
func classifyHTTPError(err error, statusCode int, body string) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if statusCode >= 500 {
		return fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, statusCode)
	}
	if statusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderRejected, statusCode, strings.TrimSpace(body))
	}
	return nil
}

// mapExternalStatus translates a provider's raw status vocabulary into the
// tracker's state machine. Unknown vocabulary maps to processing so the
// reconciliation schedule keeps polling instead of guessing a terminal state.
func mapExternalStatus(raw string) domain.FulfillmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "delivered", "success", "successful":
		return domain.StatusCompleted
	case "failed", "refunded", "cancelled", "canceled", "rejected":
		return domain.StatusFailed
	case "pending", "queued", "accepted", "processing", "in_progress":
		return domain.StatusProcessing
	default:
		return domain.StatusProcessing
	}
}

// MapExternalStatus is the exported form used by the webhook receiver and
// reconciliation scheduler to route provider vocabulary through the tracker.
func MapExternalStatus(raw string) domain.FulfillmentStatus {
	return mapExternalStatus(raw)
}
