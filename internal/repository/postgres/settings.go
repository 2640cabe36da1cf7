package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// SettingsRepository reads the engine settings row maintained by the admin
// dashboard. A missing row falls back to defaults rather than erroring, so
// a fresh install dispatches through the default provider.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Load(ctx context.Context) (domain.Settings, error) {
	const query = `
		SELECT active_provider, auto_fulfillment, network_enabled
		FROM engine_settings
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var (
		provider       string
		auto           bool
		networkEnabled map[domain.Network]bool
	)
	err := r.pool.QueryRow(ctx, query).Scan(&provider, &auto, &networkEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}

	kind, err := domain.ParseProviderKind(provider)
	if err != nil {
		return domain.Settings{}, err
	}

	return domain.Settings{
		ActiveProvider:  kind,
		AutoFulfillment: auto,
		NetworkEnabled:  networkEnabled,
	}, nil
}
