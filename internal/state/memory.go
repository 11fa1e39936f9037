package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// memoryStateService is an in-memory RetailerStateService, used in tests
// and local development
type memoryStateService struct {
	mu        sync.Mutex
	retailers map[string]status.Retailer
	states    map[string]*status.RetailerSyncState
}

// NewMemoryStateService creates an in-memory retailer state service
func NewMemoryStateService() RetailerStateService {
	return &memoryStateService{
		retailers: make(map[string]status.Retailer),
		states:    make(map[string]*status.RetailerSyncState),
	}
}

// AddRetailer registers a retailer with a fresh active sync state.
// It is exported on the concrete type for test setup.
func (m *memoryStateService) AddRetailer(r status.Retailer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retailers[r.ID] = r
	m.states[r.ID] = &status.RetailerSyncState{
		RetailerID: r.ID,
		Status:     status.RetailerStatusActive,
	}
}

func (m *memoryStateService) GetRetailer(_ context.Context, retailerID string) (*status.Retailer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.retailers[retailerID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}
	return &r, nil
}

func (m *memoryStateService) GetSyncState(_ context.Context, retailerID string) (*status.RetailerSyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[retailerID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}
	copied := *st
	return &copied, nil
}

func (m *memoryStateService) ListActiveRetailers(_ context.Context) ([]status.Retailer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var retailers []status.Retailer
	for id, st := range m.states {
		if st.Status == status.RetailerStatusActive && !st.Closed {
			retailers = append(retailers, m.retailers[id])
		}
	}
	sort.Slice(retailers, func(i, j int) bool { return retailers[i].ID < retailers[j].ID })
	return retailers, nil
}

func (m *memoryStateService) UpdateSyncState(
	_ context.Context,
	retailerID string,
	updateFn func(state *status.RetailerSyncState) bool,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[retailerID]
	if !ok {
		return false, fmt.Errorf("%s: %w", retailerID, ErrRetailerNotFound)
	}

	copied := *st
	if !updateFn(&copied) {
		return false, nil
	}
	m.states[retailerID] = &copied
	return true, nil
}
