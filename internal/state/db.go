package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// dbStateService is the Postgres-backed implementation of
// RetailerStateService
type dbStateService struct {
	pool *pgxpool.Pool
}

// NewDBStateService creates a database-backed retailer state service
func NewDBStateService(pool *pgxpool.Pool) RetailerStateService {
	return &dbStateService{pool: pool}
}

func (d *dbStateService) GetRetailer(ctx context.Context, retailerID string) (*status.Retailer, error) {
	var r status.Retailer
	err := d.pool.QueryRow(ctx,
		`SELECT id, domain, access_token FROM retailers WHERE id = $1`,
		retailerID,
	).Scan(&r.ID, &r.Domain, &r.AccessToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load retailer %s: %w", retailerID, err)
	}
	return &r, nil
}

func (d *dbStateService) GetSyncState(ctx context.Context, retailerID string) (*status.RetailerSyncState, error) {
	st, err := scanSyncState(d.pool.QueryRow(ctx,
		syncStateSelect+` WHERE retailer_id = $1`,
		retailerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state for %s: %w", retailerID, err)
	}
	return st, nil
}

func (d *dbStateService) ListActiveRetailers(ctx context.Context) ([]status.Retailer, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT r.id, r.domain, r.access_token
		 FROM retailers r
		 JOIN retailer_sync_state s ON s.retailer_id = r.id
		 WHERE s.status = $1 AND NOT s.closed
		 ORDER BY r.id`,
		status.RetailerStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active retailers: %w", err)
	}
	defer rows.Close()

	var retailers []status.Retailer
	for rows.Next() {
		var r status.Retailer
		if err := rows.Scan(&r.ID, &r.Domain, &r.AccessToken); err != nil {
			return nil, fmt.Errorf("failed to scan retailer: %w", err)
		}
		retailers = append(retailers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read retailers: %w", err)
	}
	return retailers, nil
}

func (d *dbStateService) UpdateSyncState(
	ctx context.Context,
	retailerID string,
	updateFn func(state *status.RetailerSyncState) bool,
) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent updaters for the same retailer
	st, err := scanSyncState(tx.QueryRow(ctx,
		syncStateSelect+` WHERE retailer_id = $1 FOR UPDATE`,
		retailerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock sync state for %s: %w", retailerID, err)
	}

	if !updateFn(st) {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE retailer_sync_state SET
			status = $2,
			stage = $3,
			last_product_sync = $4,
			last_product_group_sync = $5,
			last_partial_sync_request = $6,
			next_partial_sync_request = $7,
			last_safety_sync_completed = $8,
			sync_error_code = $9,
			closed = $10,
			updated_at = $11
		 WHERE retailer_id = $1`,
		retailerID,
		st.Status,
		st.Stage,
		st.LastProductSync,
		st.LastProductGroupSync,
		st.LastPartialSyncRequestTime,
		st.NextPartialSyncRequestTime,
		st.LastSafetySyncCompleted,
		st.SyncErrorCode,
		st.Closed,
		time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update sync state for %s: %w", retailerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit sync state for %s: %w", retailerID, err)
	}
	return true, nil
}

const syncStateSelect = `SELECT retailer_id, status, stage,
	last_product_sync, last_product_group_sync,
	last_partial_sync_request, next_partial_sync_request,
	last_safety_sync_completed, sync_error_code, closed
 FROM retailer_sync_state`

// scanSyncState reads one sync state row
func scanSyncState(row pgx.Row) (*status.RetailerSyncState, error) {
	var st status.RetailerSyncState
	err := row.Scan(
		&st.RetailerID,
		&st.Status,
		&st.Stage,
		&st.LastProductSync,
		&st.LastProductGroupSync,
		&st.LastPartialSyncRequestTime,
		&st.NextPartialSyncRequestTime,
		&st.LastSafetySyncCompleted,
		&st.SyncErrorCode,
		&st.Closed,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
