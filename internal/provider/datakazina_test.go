package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

func TestDatakazinaClient_SubmitOrder_New(t *testing.T) {
	var submits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/orders":
			// No existing order under this reference.
			w.Write([]byte(`[]`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/orders":
			submits.Add(1)
			w.Write([]byte(`{"id": "DK-7", "status": "queued"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewDatakazinaClient(DatakazinaConfig{BaseURL: server.URL, APIKey: "k"}, nil)

	result, err := client.SubmitOrder(context.Background(), SubmitRequest{
		Phone:          "0501234567",
		Network:        domain.NetworkTelecel,
		SizeGB:         2,
		IdempotencyKey: "trk-9",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.ProviderOrderID != "DK-7" {
		t.Errorf("ProviderOrderID = %q, want DK-7", result.ProviderOrderID)
	}
	if submits.Load() != 1 {
		t.Errorf("submits = %d, want 1", submits.Load())
	}
}

func TestDatakazinaClient_SubmitOrder_ExistingReference(t *testing.T) {
	// The provider has no native idempotency keys: a duplicate submit must
	// resolve through the reference lookup, never POST a second order.
	var submits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/orders":
			if r.URL.Query().Get("reference") != "trk-9" {
				t.Errorf("reference = %q, want trk-9", r.URL.Query().Get("reference"))
			}
			w.Write([]byte(`[{"id": "DK-7", "status": "processing", "reference": "trk-9"}]`))
		case r.Method == http.MethodPost:
			submits.Add(1)
			w.Write([]byte(`{"id": "DK-8", "status": "queued"}`))
		}
	}))
	defer server.Close()

	client := NewDatakazinaClient(DatakazinaConfig{BaseURL: server.URL, APIKey: "k"}, nil)

	result, err := client.SubmitOrder(context.Background(), SubmitRequest{
		Phone:          "0501234567",
		IdempotencyKey: "trk-9",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.ProviderOrderID != "DK-7" {
		t.Errorf("ProviderOrderID = %q, want DK-7 (existing order)", result.ProviderOrderID)
	}
	if submits.Load() != 0 {
		t.Errorf("submits = %d, want 0 (no double charge)", submits.Load())
	}
}

func TestDatakazinaClient_CheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/DK-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "k" {
			t.Error("missing api key header")
		}
		w.Write([]byte(`{"id": "DK-7", "status": "completed", "message": "done"}`))
	}))
	defer server.Close()

	client := NewDatakazinaClient(DatakazinaConfig{BaseURL: server.URL, APIKey: "k"}, nil)

	result, err := client.CheckStatus(context.Background(), "DK-7")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("Status = %q, want completed", result.Status)
	}
}
