package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/reconcile"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

type Handler struct {
	tracker   *tracker.Tracker
	scheduler *reconcile.Scheduler
	logger    *slog.Logger
}

func NewHandler(tr *tracker.Tracker, scheduler *reconcile.Scheduler, logger *slog.Logger) *Handler {
	return &Handler{
		tracker:   tr,
		scheduler: scheduler,
		logger:    logger,
	}
}

type DispatchResponse struct {
	TrackingID      string                   `json:"tracking_id"`
	Status          domain.FulfillmentStatus `json:"status"`
	Provider        domain.ProviderKind      `json:"provider"`
	ProviderOrderID *string                  `json:"provider_order_id,omitempty"`
}

// Dispatch is POST /dispatch: submit one local order for fulfillment. A
// provider-rejected order still answers 202 with status failed; the
// dispatch itself ran, the terminal outcome is in the payload.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req domain.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LocalOrderID == "" || req.LocalOrderType == "" || req.RecipientPhone == "" || req.SizeGB <= 0 {
		h.respondError(w, http.StatusBadRequest, "local_order_id, local_order_type, recipient_phone, and size_gb are required")
		return
	}

	record, err := h.tracker.Dispatch(r.Context(), req)
	if err != nil {
		// Fixed messages only: dispatch errors can wrap verbatim provider
		// response text, which is diagnostics, not a public API surface.
		switch {
		case errors.Is(err, domain.ErrInvalidPhone):
			h.respondError(w, http.StatusUnprocessableEntity, "recipient phone is not a valid Ghana number")
		case errors.Is(err, domain.ErrNetworkMismatch):
			h.respondError(w, http.StatusUnprocessableEntity, "recipient phone does not match the requested network")
		case errors.Is(err, domain.ErrProviderRejected):
			h.respondError(w, http.StatusUnprocessableEntity, "order refused for this network")
		case errors.Is(err, domain.ErrDuplicateDispatch):
			h.respondError(w, http.StatusConflict, "order already has a live tracking record")
		default:
			observability.LoggerFromContext(r.Context()).Error("dispatch failed", "error", err, "local_order_id", req.LocalOrderID)
			h.respondError(w, http.StatusBadGateway, "dispatch failed")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, DispatchResponse{
		TrackingID:      record.ID,
		Status:          record.Status,
		Provider:        record.Provider,
		ProviderOrderID: record.ProviderOrderID,
	})
}

// TrackingView is the public projection of a tracking record. Raw provider
// payloads and external status text stay on the admin endpoint; they can
// carry verbatim vendor responses.
type TrackingView struct {
	ID              string                   `json:"id"`
	LocalOrderID    string                   `json:"local_order_id"`
	LocalOrderType  string                   `json:"local_order_type"`
	Provider        domain.ProviderKind      `json:"provider"`
	ProviderOrderID *string                  `json:"provider_order_id,omitempty"`
	Network         domain.Network           `json:"network"`
	SizeGB          float64                  `json:"size_gb"`
	Status          domain.FulfillmentStatus `json:"status"`
	RetryCount      int                      `json:"retry_count"`
	NextCheckAt     *time.Time               `json:"next_check_at,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

func trackingView(record *domain.TrackingRecord) TrackingView {
	return TrackingView{
		ID:              record.ID,
		LocalOrderID:    record.LocalOrderID,
		LocalOrderType:  record.LocalOrderType,
		Provider:        record.Provider,
		ProviderOrderID: record.ProviderOrderID,
		Network:         record.Network,
		SizeGB:          record.SizeGB,
		Status:          record.Status,
		RetryCount:      record.RetryCount,
		NextCheckAt:     record.NextCheckAt,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

// GetTracking is GET /trackings/{id}: the trimmed public view.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	record, ok := h.fetchTracking(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, trackingView(record))
}

// GetTrackingAdmin is GET /admin/trackings/{id}: the full record including
// external status text and the raw provider payload.
func (h *Handler) GetTrackingAdmin(w http.ResponseWriter, r *http.Request) {
	record, ok := h.fetchTracking(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

func (h *Handler) fetchTracking(w http.ResponseWriter, r *http.Request) (*domain.TrackingRecord, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "tracking id is required")
		return nil, false
	}

	record, err := h.tracker.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "tracking record not found")
		return nil, false
	}
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("failed to get tracking record", "error", err, "tracking_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to get tracking record")
		return nil, false
	}
	return record, true
}

type SyncRequest struct {
	TrackingID      string `json:"tracking_id,omitempty"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
	All             bool   `json:"all,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// Sync is POST /admin/sync: force reconciliation of one record or every
// non-terminal record, outside the normal schedule.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		result reconcile.SyncResult
		err    error
	)
	switch {
	case req.TrackingID != "":
		result, err = h.scheduler.SyncRecord(r.Context(), req.TrackingID)
	case req.ProviderOrderID != "":
		result, err = h.scheduler.SyncByProviderOrderID(r.Context(), req.ProviderOrderID)
	case req.All:
		result, err = h.scheduler.SyncAllPending(r.Context(), req.Limit)
	default:
		h.respondError(w, http.StatusBadRequest, "tracking_id, provider_order_id, or all is required")
		return
	}

	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "tracking record not found")
		return
	}
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("admin sync failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// ReloadSettings is POST /admin/settings/reload: pick up provider or
// toggle changes without a restart.
func (h *Handler) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.ReloadSettings(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context()).Error("settings reload failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "settings reload failed")
		return
	}

	settings := h.tracker.Settings()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"active_provider":  settings.ActiveProvider,
		"auto_fulfillment": settings.AutoFulfillment,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
