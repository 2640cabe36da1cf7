package phone

import (
	"errors"
	"testing"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already canonical", "0241234567", "0241234567"},
		{"nine digits padded", "241234567", "0241234567"},
		{"country code", "233241234567", "0241234567"},
		{"plus country code", "+233241234567", "0241234567"},
		{"spaces and dashes", "024-123 4567", "0241234567"},
		{"parentheses", "(024) 123 4567", "0241234567"},
		{"country code with spaces", "+233 24 123 4567", "0241234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"too short", "02412"},
		{"too long", "02412345678"},
		{"ten digits no leading zero", "2412345678"},
		{"letters only", "not a number"},
		{"country code wrong length", "23324123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.raw); !errors.Is(err, domain.ErrInvalidPhone) {
				t.Errorf("Normalize(%q) error = %v, want ErrInvalidPhone", tt.raw, err)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"0241234567", "241234567", "+233501234567", "0271119999"}

	for _, raw := range inputs {
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)): %v", raw, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestNetworkOf(t *testing.T) {
	tests := []struct {
		canonical string
		want      domain.Network
	}{
		{"0241234567", domain.NetworkMTN},
		{"0551234567", domain.NetworkMTN},
		{"0591234567", domain.NetworkMTN},
		{"0201234567", domain.NetworkTelecel},
		{"0501234567", domain.NetworkTelecel},
		{"0261234567", domain.NetworkAirtelTigo},
		{"0571234567", domain.NetworkAirtelTigo},
		{"0991234567", domain.NetworkNone},
		{"01", domain.NetworkNone},
	}

	for _, tt := range tests {
		if got := NetworkOf(tt.canonical); got != tt.want {
			t.Errorf("NetworkOf(%q) = %q, want %q", tt.canonical, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	if !Matches("0241234567", domain.NetworkMTN) {
		t.Error("0241234567 should match mtn")
	}
	if Matches("0241234567", domain.NetworkTelecel) {
		t.Error("0241234567 should not match telecel")
	}
	if Matches("0991234567", domain.NetworkMTN) {
		t.Error("unknown prefix should match nothing")
	}
}
