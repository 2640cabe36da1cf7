package domain

// Settings is the admin-controlled runtime configuration snapshot for the
// engine: which provider is live, whether dispatch runs automatically, and
// which networks are currently eligible. It is read through the settings
// store and refreshed by an explicit reload, never ambient global state.
type Settings struct {
	ActiveProvider  ProviderKind     `json:"active_provider"`
	AutoFulfillment bool             `json:"auto_fulfillment"`
	NetworkEnabled  map[Network]bool `json:"network_enabled"`
}

// NetworkEligible reports whether dispatch is currently allowed for n.
// Networks absent from the map default to enabled.
func (s Settings) NetworkEligible(n Network) bool {
	if s.NetworkEnabled == nil {
		return true
	}
	enabled, ok := s.NetworkEnabled[n]
	if !ok {
		return true
	}
	return enabled
}

// DefaultSettings returns the configuration used before the settings store
// has been read: Sykes live, auto-fulfillment on, all networks eligible.
func DefaultSettings() Settings {
	return Settings{
		ActiveProvider:  ProviderSykes,
		AutoFulfillment: true,
	}
}
