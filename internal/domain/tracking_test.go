package domain

import "testing"

func TestFulfillmentStatus_Priority(t *testing.T) {
	tests := []struct {
		status   FulfillmentStatus
		priority int
	}{
		{StatusPending, 1},
		{StatusProcessing, 2},
		{StatusRetrying, 2},
		{StatusCompleted, 3},
		{StatusFailed, 3},
		{FulfillmentStatus("bogus"), 0},
	}

	for _, tt := range tests {
		if got := tt.status.Priority(); got != tt.priority {
			t.Errorf("Priority(%s) = %d, want %d", tt.status, got, tt.priority)
		}
	}
}

func TestTrackingRecord_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		current FulfillmentStatus
		next    FulfillmentStatus
		want    bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to retrying self loop", StatusProcessing, StatusRetrying, true},
		{"retrying back to processing", StatusRetrying, StatusProcessing, true},
		{"processing regression to pending", StatusProcessing, StatusPending, false},
		{"completed accepts nothing", StatusCompleted, StatusProcessing, false},
		{"completed stays completed", StatusCompleted, StatusCompleted, false},
		{"failed to completed rejected", StatusFailed, StatusCompleted, false},
		{"failed to failed rejected", StatusFailed, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &TrackingRecord{Status: tt.current}
			if got := r.CanTransitionTo(tt.next); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestTrackingRecord_SetProviderOrderID_Immutable(t *testing.T) {
	r := &TrackingRecord{}

	r.SetProviderOrderID("P-100")
	if r.ProviderOrderID == nil || *r.ProviderOrderID != "P-100" {
		t.Fatalf("provider order id not set")
	}

	r.SetProviderOrderID("P-200")
	if *r.ProviderOrderID != "P-100" {
		t.Errorf("provider order id mutated to %s, want P-100", *r.ProviderOrderID)
	}
}

func TestSettings_NetworkEligible(t *testing.T) {
	s := Settings{NetworkEnabled: map[Network]bool{NetworkMTN: false}}

	if s.NetworkEligible(NetworkMTN) {
		t.Error("mtn should be disabled")
	}
	if !s.NetworkEligible(NetworkTelecel) {
		t.Error("networks absent from the map should default to enabled")
	}
	if !(Settings{}).NetworkEligible(NetworkMTN) {
		t.Error("nil map should default to enabled")
	}
}
