package provider

import (
	"fmt"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// Factory resolves the admin-selected provider kind to its client. Clients
// are constructed once at startup; switching the live provider is a
// settings change, not a redeploy.
type Factory struct {
	clients map[domain.ProviderKind]Client
}

func NewFactory(clients ...Client) *Factory {
	m := make(map[domain.ProviderKind]Client, len(clients))
	for _, c := range clients {
		m[c.Kind()] = c
	}
	return &Factory{clients: m}
}

// For returns the client for the given provider kind.
func (f *Factory) For(kind domain.ProviderKind) (Client, error) {
	c, ok := f.clients[kind]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", kind)
	}
	return c, nil
}

// Kinds lists the registered provider kinds.
func (f *Factory) Kinds() []domain.ProviderKind {
	kinds := make([]domain.ProviderKind, 0, len(f.clients))
	for k := range f.clients {
		kinds = append(kinds, k)
	}
	return kinds
}
