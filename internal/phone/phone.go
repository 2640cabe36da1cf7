// Package phone normalizes raw recipient phone input to the canonical local
// format and infers the carrier network from numeric prefixes. Purely
// functional: no I/O, fully deterministic.
package phone

import (
	"strings"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// countryCode is the Ghana dialing code, accepted with or without a leading +.
const countryCode = "233"

// networkPrefixes maps 3-digit local prefixes to carrier networks.
// The sets are disjoint; prefixes outside all sets yield NetworkNone.
var networkPrefixes = map[string]domain.Network{
	"024": domain.NetworkMTN,
	"025": domain.NetworkMTN,
	"053": domain.NetworkMTN,
	"054": domain.NetworkMTN,
	"055": domain.NetworkMTN,
	"059": domain.NetworkMTN,

	"020": domain.NetworkTelecel,
	"050": domain.NetworkTelecel,

	"026": domain.NetworkAirtelTigo,
	"027": domain.NetworkAirtelTigo,
	"056": domain.NetworkAirtelTigo,
	"057": domain.NetworkAirtelTigo,
}

// Normalize converts raw phone input to the canonical 10-digit local format
// (leading 0). Non-digit characters are stripped, a leading country code or
// + prefix is collapsed, and a 9-digit subscriber number is left-padded with
// 0. Anything else fails with domain.ErrInvalidPhone.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()

	// 233XXXXXXXXX -> 0XXXXXXXXX. The + was already stripped above.
	if strings.HasPrefix(digits, countryCode) && len(digits) == len(countryCode)+9 {
		digits = "0" + digits[len(countryCode):]
	}

	if len(digits) == 9 {
		digits = "0" + digits
	}

	if len(digits) != 10 || digits[0] != '0' {
		return "", domain.ErrInvalidPhone
	}
	return digits, nil
}

// NetworkOf maps a canonical phone number to its carrier network using the
// fixed prefix table. Unknown prefixes yield NetworkNone.
func NetworkOf(canonical string) domain.Network {
	if len(canonical) < 3 {
		return domain.NetworkNone
	}
	return networkPrefixes[canonical[:3]]
}

// Matches reports whether the canonical number belongs to the expected network.
func Matches(canonical string, expected domain.Network) bool {
	return NetworkOf(canonical) == expected
}
