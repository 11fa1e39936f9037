package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

func newPopulated(t *testing.T) *memoryStateService {
	t.Helper()
	svc := NewMemoryStateService().(*memoryStateService)
	svc.AddRetailer(status.Retailer{ID: "r-1", Domain: "one.example.com", AccessToken: "tok-1"})
	svc.AddRetailer(status.Retailer{ID: "r-2", Domain: "two.example.com", AccessToken: "tok-2"})
	return svc
}

func TestGetRetailer(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	r, err := svc.GetRetailer(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "one.example.com", r.Domain)

	_, err = svc.GetRetailer(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRetailerNotFound)
}

func TestGetSyncStateReturnsCopy(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	st, err := svc.GetSyncState(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, status.RetailerStatusActive, st.Status)

	// Mutating the returned record must not leak into the store
	st.Stage = status.StageFailed
	again, err := svc.GetSyncState(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Empty(t, again.Stage)
}

func TestListActiveRetailers(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	active, err := svc.ListActiveRetailers(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "r-1", active[0].ID)
	assert.Equal(t, "r-2", active[1].ID)

	// Closed retailers drop out even while still marked active
	modified, err := svc.UpdateSyncState(context.Background(), "r-1",
		func(st *status.RetailerSyncState) bool {
			st.Closed = true
			return true
		})
	require.NoError(t, err)
	assert.True(t, modified)

	active, err = svc.ListActiveRetailers(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r-2", active[0].ID)
}

func TestUpdateSyncState(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	modified, err := svc.UpdateSyncState(context.Background(), "r-1",
		func(st *status.RetailerSyncState) bool {
			st.Stage = status.StageCleanUp
			return true
		})
	require.NoError(t, err)
	assert.True(t, modified)

	st, err := svc.GetSyncState(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, status.StageCleanUp, st.Stage)
}

func TestUpdateSyncStateDeclined(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	modified, err := svc.UpdateSyncState(context.Background(), "r-1",
		func(st *status.RetailerSyncState) bool {
			st.Stage = status.StageFailed
			return false
		})
	require.NoError(t, err)
	assert.False(t, modified)

	// A declined update leaves the stored record untouched
	st, err := svc.GetSyncState(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Empty(t, st.Stage)
}

func TestUpdateSyncStateUnknownRetailer(t *testing.T) {
	t.Parallel()

	svc := newPopulated(t)

	_, err := svc.UpdateSyncState(context.Background(), "missing",
		func(*status.RetailerSyncState) bool { return true })
	require.ErrorIs(t, err, ErrRetailerNotFound)
}
