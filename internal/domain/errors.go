// Package domain contains the core business entities and logic.
package domain

import "errors"

// Sentinel errors for the fulfillment error taxonomy.
// Handlers and schedulers branch on these with errors.Is without
// coupling to provider or infrastructure details.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidPhone indicates the recipient phone number could not be
	// normalized to a valid local number. Rejected before dispatch, never retried.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrNetworkMismatch indicates the phone number does not belong to the
	// network the order was placed for.
	ErrNetworkMismatch = errors.New("phone number does not match network")

	// ErrProviderRejected indicates the provider refused the order for a
	// business reason (4xx). Terminal, never retried.
	ErrProviderRejected = errors.New("provider rejected order")

	// ErrProviderUnavailable indicates a network error or provider 5xx.
	// Transient, routed to the retry path.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrTimeout indicates the provider call exceeded its deadline.
	// Transient, routed to the retry path.
	ErrTimeout = errors.New("provider call timed out")

	// ErrRateLimited indicates the outbound rate limiter denied the call.
	// Transient, re-queued with backoff, never customer-visible.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen indicates the circuit breaker short-circuited the call.
	// Transient, re-queued with backoff.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidSignature indicates a webhook failed HMAC verification.
	// The request is rejected with no state change.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMaxRetriesExceeded indicates the retry cap was reached and the
	// record was forced to a terminal failed state.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrDuplicateDispatch indicates a dispatch was attempted for a local
	// order that already has a live tracking record.
	ErrDuplicateDispatch = errors.New("order already has a live tracking record")

	// ErrStaleTransition indicates a status write lost the compare-and-swap
	// race or targeted a lower priority. Callers treat it as a no-op.
	ErrStaleTransition = errors.New("stale transition")
)

// IsTransient reports whether err belongs to the transient class of the
// taxonomy: failures that feed the standard retry/backoff path.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrCircuitOpen)
}
