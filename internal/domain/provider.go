package domain

import (
	"encoding/json"
	"fmt"
)

// ProviderKind identifies an external fulfillment provider. The set is
// closed: the active provider is a runtime configuration decision resolved
// through a factory, never a free-form string lookup.
type ProviderKind string

const (
	ProviderSykes      ProviderKind = "sykes"
	ProviderDatakazina ProviderKind = "datakazina"
)

// ParseProviderKind validates an admin-supplied provider name.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(s) {
	case ProviderSykes:
		return ProviderSykes, nil
	case ProviderDatakazina:
		return ProviderDatakazina, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Network is a mobile carrier network a bundle can be fulfilled on.
type Network string

const (
	NetworkNone       Network = ""
	NetworkMTN        Network = "mtn"
	NetworkTelecel    Network = "telecel"
	NetworkAirtelTigo Network = "airteltigo"
)

// DispatchRequest is the input to a fulfillment dispatch: one local order
// that needs a bundle delivered to a recipient.
type DispatchRequest struct {
	LocalOrderID   string  `json:"local_order_id"`
	LocalOrderType string  `json:"local_order_type"`
	RecipientPhone string  `json:"recipient_phone"`
	Network        Network `json:"network"`
	SizeGB         float64 `json:"size_gb"`
}

// SubmitResult is the provider's acknowledgment of an order submission.
type SubmitResult struct {
	ProviderOrderID string
	InitialStatus   string
	Raw             json.RawMessage
}

// StatusResult is a provider-side status snapshot for one order.
// Status and Message carry the provider's raw vocabulary verbatim for audit;
// mapping to FulfillmentStatus happens at the client boundary.
type StatusResult struct {
	Status  string
	Message string
	Raw     json.RawMessage
}

// Balance is the provider wallet balance, used only by the health monitor.
type Balance struct {
	Amount   float64
	Currency string
}

// Outcome is the terminal result reported to the order-management
// collaborator exactly once per tracking record.
type Outcome struct {
	TrackingID      string
	LocalOrderID    string
	LocalOrderType  string
	Status          FulfillmentStatus
	ExternalMessage string
}
