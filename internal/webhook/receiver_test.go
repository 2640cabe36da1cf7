package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/retry"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

const testSecret = "webhook-test-secret"

// stubRepo holds a single tracking record, enough to observe whether a
// webhook mutated state.
type stubRepo struct {
	record *domain.TrackingRecord
}

func (r *stubRepo) Create(_ context.Context, record *domain.TrackingRecord) error {
	r.record = record
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id string) (*domain.TrackingRecord, error) {
	if r.record == nil || r.record.ID != id {
		return nil, domain.ErrNotFound
	}
	cp := *r.record
	return &cp, nil
}

func (r *stubRepo) GetByProviderOrderID(_ context.Context, providerOrderID string) (*domain.TrackingRecord, error) {
	if r.record == nil || r.record.ProviderOrderID == nil || *r.record.ProviderOrderID != providerOrderID {
		return nil, domain.ErrNotFound
	}
	cp := *r.record
	return &cp, nil
}

func (r *stubRepo) GetLiveByLocalOrder(_ context.Context, _, _ string) (*domain.TrackingRecord, error) {
	return nil, domain.ErrNotFound
}

func (r *stubRepo) GetDue(_ context.Context, _ int) ([]*domain.TrackingRecord, error) {
	return nil, nil
}

func (r *stubRepo) GetPending(_ context.Context, _ int) ([]*domain.TrackingRecord, error) {
	return nil, nil
}

func (r *stubRepo) UpdateCAS(_ context.Context, record *domain.TrackingRecord) error {
	if r.record == nil || r.record.Version != record.Version {
		return domain.ErrStaleTransition
	}
	cp := *record
	cp.Version++
	r.record = &cp
	record.Version = cp.Version
	return nil
}

func (r *stubRepo) AppendDiagnostics(_ context.Context, _ string, _, _ string, _ json.RawMessage) error {
	return nil
}

func processingRecord() *domain.TrackingRecord {
	orderID := "SYK-100"
	return &domain.TrackingRecord{
		ID:              "trk-1",
		LocalOrderID:    "order-1",
		LocalOrderType:  "bundle_order",
		Provider:        domain.ProviderSykes,
		ProviderOrderID: &orderID,
		RecipientPhone:  "0244123456",
		Network:         domain.NetworkMTN,
		SizeGB:          5,
		Status:          domain.StatusProcessing,
	}
}

func newTestReceiver(repo *stubRepo) *Receiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock.MockClock{NowTime: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := tracker.New(repo, nil, nil, retry.DefaultPolicy(), clk, logger)
	return NewReceiver(testSecret, tr, logger)
}

func post(t *testing.T, rec *Receiver, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	rec.Handle(w, req)
	return w
}

func statusChangedBody(t *testing.T, orderID, status string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "order.status_changed",
		"order": map[string]any{"id": orderID, "status": status},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestHandle_ValidSignatureAppliesTransition(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body := statusChangedBody(t, "SYK-100", "delivered")
	w := post(t, rec, body, Sign([]byte(testSecret), body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if repo.record.Status != domain.StatusCompleted {
		t.Errorf("record status = %s, want %s", repo.record.Status, domain.StatusCompleted)
	}
	if repo.record.WebhookAt == nil {
		t.Error("WebhookAt not set on webhook transition")
	}
}

func TestHandle_TamperedBodyRejected(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body := statusChangedBody(t, "SYK-100", "delivered")
	signature := Sign([]byte(testSecret), body)
	tampered := bytes.Replace(body, []byte("delivered"), []byte("failed"), 1)

	w := post(t, rec, tampered, signature)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if repo.record.Status != domain.StatusProcessing {
		t.Errorf("record mutated on rejected signature: status = %s", repo.record.Status)
	}
}

func TestHandle_MissingSignatureRejected(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	w := post(t, rec, statusChangedBody(t, "SYK-100", "delivered"), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandle_WrongSecretRejected(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body := statusChangedBody(t, "SYK-100", "delivered")
	w := post(t, rec, body, Sign([]byte("other-secret"), body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandle_UnknownEventAcknowledged(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body, _ := json.Marshal(map[string]any{"event": "wallet.low_balance"})
	w := post(t, rec, body, Sign([]byte(testSecret), body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if repo.record.Status != domain.StatusProcessing {
		t.Errorf("unknown event mutated record: status = %s", repo.record.Status)
	}
}

func TestHandle_UnknownOrderAcknowledged(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body := statusChangedBody(t, "SYK-999", "delivered")
	w := post(t, rec, body, Sign([]byte(testSecret), body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandle_MalformedJSONAfterVerificationAcknowledged(t *testing.T) {
	repo := &stubRepo{record: processingRecord()}
	rec := newTestReceiver(repo)

	body := []byte(`{"event": "order.status_changed", "order":`)
	w := post(t, rec, body, Sign([]byte(testSecret), body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandle_TerminalRecordNotResurrected(t *testing.T) {
	record := processingRecord()
	record.Status = domain.StatusFailed
	repo := &stubRepo{record: record}
	rec := newTestReceiver(repo)

	body := statusChangedBody(t, "SYK-100", "delivered")
	w := post(t, rec, body, Sign([]byte(testSecret), body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if repo.record.Status != domain.StatusFailed {
		t.Errorf("terminal record resurrected: status = %s", repo.record.Status)
	}
}
