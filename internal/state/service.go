// Package state contains the persistence layer for per-retailer sync
// bookkeeping. All cross-run state lives here; pipeline runs share no
// in-memory structures.
package state

import (
	"context"
	"errors"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// ErrRetailerNotFound is returned when a retailer can't be found.
var ErrRetailerNotFound = errors.New("retailer not found")

// RetailerStateService provides access to retailers and their sync state
//
//go:generate mockgen -destination=mocks/mock_retailer_state_service.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/state RetailerStateService
type RetailerStateService interface {
	// GetRetailer returns the retailer's platform identity
	GetRetailer(ctx context.Context, retailerID string) (*status.Retailer, error)

	// GetSyncState returns the retailer's sync bookkeeping record
	GetSyncState(ctx context.Context, retailerID string) (*status.RetailerSyncState, error)

	// ListActiveRetailers returns every retailer whose status is active
	ListActiveRetailers(ctx context.Context) ([]status.Retailer, error)

	// UpdateSyncState applies updateFn to the retailer's current state and
	// persists the result if updateFn reports a mutation - all as a single
	// atomic action. Returns whether the state was modified.
	UpdateSyncState(
		ctx context.Context,
		retailerID string,
		updateFn func(state *status.RetailerSyncState) bool,
	) (bool, error)
}
