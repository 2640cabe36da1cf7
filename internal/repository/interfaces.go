package repository

import (
	"context"
	"encoding/json"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// TrackingRepository persists fulfillment tracking records. Status writes go
// through a compare-and-swap on the record version: of two racing
// transitions the loser's write is a no-op reported as
// domain.ErrStaleTransition, never an error surfaced to the transition's
// origin (webhook or poll).
type TrackingRepository interface {
	// Create inserts a new record. At most one non-failed record may exist
	// per (local order ID, local order type); inserting a second returns
	// domain.ErrDuplicateDispatch.
	Create(ctx context.Context, record *domain.TrackingRecord) error
	GetByID(ctx context.Context, id string) (*domain.TrackingRecord, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TrackingRecord, error)
	// GetLiveByLocalOrder returns the non-failed record for a local order,
	// or domain.ErrNotFound. Used to refuse silent duplicate dispatch.
	GetLiveByLocalOrder(ctx context.Context, localOrderID, localOrderType string) (*domain.TrackingRecord, error)
	// GetDue returns up to limit non-terminal records whose next check time
	// has passed, oldest first. Implementations reduce, but need not
	// eliminate, overlap between concurrent scheduler instances; the
	// version CAS on write resolves any overlap.
	GetDue(ctx context.Context, limit int) ([]*domain.TrackingRecord, error)
	// GetPending returns non-terminal records regardless of schedule, for
	// the admin sync-all path.
	GetPending(ctx context.Context, limit int) ([]*domain.TrackingRecord, error)
	// UpdateCAS persists the record if and only if the stored version still
	// matches record.Version; on success the stored version is incremented.
	// Returns domain.ErrStaleTransition when the row moved underneath.
	UpdateCAS(ctx context.Context, record *domain.TrackingRecord) error
	// AppendDiagnostics records the latest raw provider payload and external
	// status text. Permitted on terminal records: diagnostics never
	// resurrect status.
	AppendDiagnostics(ctx context.Context, id string, externalStatus, externalMessage string, raw json.RawMessage) error
}

// SettingsRepository reads the admin-controlled engine settings.
type SettingsRepository interface {
	Load(ctx context.Context) (domain.Settings, error)
}
