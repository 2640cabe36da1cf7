// Package postgres implements the repository interfaces on PostgreSQL
// via pgx. Expected schema: a fulfillment_trackings table with one row per
// dispatch attempt and a version column driving optimistic concurrency.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

const trackingColumns = `
	id, local_order_id, local_order_type, provider, provider_order_id,
	recipient_phone, network, size_gb, status, retry_count, last_retry_at,
	next_check_at, external_status, external_message, webhook_received_at,
	raw_response, version, created_at, updated_at
`

type TrackingRepository struct {
	pool *pgxpool.Pool
}

func NewTrackingRepository(pool *pgxpool.Pool) *TrackingRepository {
	return &TrackingRepository{pool: pool}
}

// Create inserts a new tracking record. A partial unique index on
// (local_order_id, local_order_type) over non-failed rows makes the insert
// the arbiter between concurrent dispatches: the loser gets
// ErrDuplicateDispatch.
func (r *TrackingRepository) Create(ctx context.Context, record *domain.TrackingRecord) error {
	const query = `
		INSERT INTO fulfillment_trackings (
			id, local_order_id, local_order_type, provider, provider_order_id,
			recipient_phone, network, size_gb, status, retry_count, last_retry_at,
			next_check_at, external_status, external_message, webhook_received_at,
			raw_response, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.LocalOrderID,
		record.LocalOrderType,
		record.Provider,
		record.ProviderOrderID,
		record.RecipientPhone,
		record.Network,
		record.SizeGB,
		record.Status,
		record.RetryCount,
		record.LastRetryAt,
		record.NextCheckAt,
		record.ExternalStatus,
		record.ExternalMessage,
		record.WebhookAt,
		record.RawResponse,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateDispatch, record.LocalOrderID, record.LocalOrderType)
	}
	return err
}

func (r *TrackingRepository) GetByID(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	const query = `SELECT ` + trackingColumns + ` FROM fulfillment_trackings WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *TrackingRepository) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*domain.TrackingRecord, error) {
	const query = `SELECT ` + trackingColumns + ` FROM fulfillment_trackings WHERE provider_order_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, providerOrderID))
}

func (r *TrackingRepository) GetLiveByLocalOrder(ctx context.Context, localOrderID, localOrderType string) (*domain.TrackingRecord, error) {
	const query = `
		SELECT ` + trackingColumns + `
		FROM fulfillment_trackings
		WHERE local_order_id = $1 AND local_order_type = $2 AND status <> 'failed'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, localOrderID, localOrderType))
}

func (r *TrackingRepository) GetDue(ctx context.Context, limit int) ([]*domain.TrackingRecord, error) {
	// SKIP LOCKED steers concurrent scheduler instances toward disjoint
	// rows while the claim query runs. Row locks from this autocommit
	// statement are released as soon as the SELECT returns, so overlapping
	// claims remain possible; the version CAS on write resolves them.
	const query = `
		SELECT ` + trackingColumns + `
		FROM fulfillment_trackings
		WHERE status IN ('pending', 'processing', 'retrying')
		AND next_check_at IS NOT NULL AND next_check_at <= NOW()
		ORDER BY next_check_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	return r.scanMany(ctx, query, limit)
}

func (r *TrackingRepository) GetPending(ctx context.Context, limit int) ([]*domain.TrackingRecord, error) {
	const query = `
		SELECT ` + trackingColumns + `
		FROM fulfillment_trackings
		WHERE status IN ('pending', 'processing', 'retrying')
		ORDER BY created_at
		LIMIT $1
	`
	return r.scanMany(ctx, query, limit)
}

func (r *TrackingRepository) UpdateCAS(ctx context.Context, record *domain.TrackingRecord) error {
	// The WHERE clause is the serialization point for racing transitions:
	// version must match and the stored status must still be non-terminal.
	const query = `
		UPDATE fulfillment_trackings
		SET provider_order_id = COALESCE(provider_order_id, $2),
		    status = $3, retry_count = $4, last_retry_at = $5, next_check_at = $6,
		    external_status = $7, external_message = $8, webhook_received_at = $9,
		    raw_response = $10, version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $12
		AND status NOT IN ('completed', 'failed')
	`

	tag, err := r.pool.Exec(ctx, query,
		record.ID,
		record.ProviderOrderID,
		record.Status,
		record.RetryCount,
		record.LastRetryAt,
		record.NextCheckAt,
		record.ExternalStatus,
		record.ExternalMessage,
		record.WebhookAt,
		record.RawResponse,
		record.UpdatedAt,
		record.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleTransition
	}
	record.Version++
	return nil
}

func (r *TrackingRepository) AppendDiagnostics(ctx context.Context, id string, externalStatus, externalMessage string, raw json.RawMessage) error {
	const query = `
		UPDATE fulfillment_trackings
		SET external_status = $2, external_message = $3, raw_response = $4, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, externalStatus, externalMessage, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TrackingRepository) scanOne(row pgx.Row) (*domain.TrackingRecord, error) {
	var record domain.TrackingRecord
	err := row.Scan(
		&record.ID,
		&record.LocalOrderID,
		&record.LocalOrderType,
		&record.Provider,
		&record.ProviderOrderID,
		&record.RecipientPhone,
		&record.Network,
		&record.SizeGB,
		&record.Status,
		&record.RetryCount,
		&record.LastRetryAt,
		&record.NextCheckAt,
		&record.ExternalStatus,
		&record.ExternalMessage,
		&record.WebhookAt,
		&record.RawResponse,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *TrackingRepository) scanMany(ctx context.Context, query string, limit int) ([]*domain.TrackingRecord, error) {
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TrackingRecord
	for rows.Next() {
		record, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
