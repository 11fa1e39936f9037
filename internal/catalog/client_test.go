package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// capturedRequest is one request the test server received
type capturedRequest struct {
	path      string
	body      []byte
	domain    string
	timestamp string
	signature string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (Client, *[]capturedRequest) {
	t.Helper()

	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = append(captured, capturedRequest{
			path:      r.URL.Path,
			body:      body,
			domain:    r.Header.Get("X-Retailer-Domain"),
			timestamp: r.Header.Get("X-Timestamp"),
			signature: r.Header.Get("X-Signature"),
		})
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	// No retries: failures should surface immediately in tests
	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:            1,
		RetryableStatusCodes:   []int{},
		RetryableNetworkErrors: []string{},
	})
	c := NewClient(server.URL, "shared-secret", policy)
	c.(*defaultClient).now = func() time.Time { return time.Unix(1700000000, 0) }
	return c, &captured
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func testRetailer() status.Retailer {
	return status.Retailer{ID: "r-1", Domain: "shop.example.com", AccessToken: "tok"}
}

func TestRequestsAreSigned(t *testing.T) {
	t.Parallel()

	c, captured := newTestClient(t, okHandler)

	err := c.SetSyncStage(context.Background(), testRetailer(), status.StageCleanUp, "")
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v1/sync/stage", req.path)
	assert.Equal(t, "shop.example.com", req.domain)
	assert.Equal(t, "1700000000", req.timestamp)

	ts, err := strconv.ParseInt(req.timestamp, 10, 64)
	require.NoError(t, err)
	assert.True(t, NewSigner("shared-secret").Verify(req.body, ts, req.signature),
		"signature must verify against the body and timestamp")
}

func TestUpsertEntities(t *testing.T) {
	t.Parallel()

	c, captured := newTestClient(t, okHandler)

	records := []json.RawMessage{
		json.RawMessage(`{"id":"p-1"}`),
		json.RawMessage(`{"id":"p-2"}`),
	}
	err := c.UpsertEntities(context.Background(), testRetailer(), EntityProducts, records)
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v1/catalog/products/upsert", req.path)
	assert.JSONEq(t, `{"records":[{"id":"p-1"},{"id":"p-2"}]}`, string(req.body))
}

func TestUpsertEntitiesEmptyBatchSkipsRequest(t *testing.T) {
	t.Parallel()

	c, captured := newTestClient(t, okHandler)

	require.NoError(t, c.UpsertEntities(context.Background(), testRetailer(), EntityProducts, nil))
	assert.Empty(t, *captured)
}

func TestRetainOnlyIDs(t *testing.T) {
	t.Parallel()

	c, captured := newTestClient(t, okHandler)

	err := c.RetainOnlyIDs(context.Background(), testRetailer(), EntityProductGroups,
		"https://blobs.example.com/keep-lists/r-1/keep.json")
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v1/catalog/product-groups/retain", req.path)
	assert.JSONEq(t, `{"idListUrl":"https://blobs.example.com/keep-lists/r-1/keep.json"}`, string(req.body))
}

func TestReportCatalogStats(t *testing.T) {
	t.Parallel()

	c, captured := newTestClient(t, okHandler)

	err := c.ReportCatalogStats(context.Background(), testRetailer(),
		Stats{ProductCount: 10, VariantCount: 25, ProductGroupCount: 3}, false)
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	assert.JSONEq(t,
		`{"counts":{"productCount":10,"variantCount":25,"productGroupCount":3},"storeClosed":false}`,
		string((*captured)[0].body))
}

func TestFetchSyncStats(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"lastIngestionDataDate": "2024-06-01T10:00:00Z",
			"catalogCounts": [
				{"entityType":"products","count":10,"asExpected":true,"reportedAt":"2024-06-01T09:00:00Z"}
			]
		}`))
	})

	stats, err := c.FetchSyncStats(context.Background(), testRetailer())
	require.NoError(t, err)
	require.NotNil(t, stats.LastIngestionDataDate)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), stats.LastIngestionDataDate.UTC())
	require.Len(t, stats.CatalogCounts, 1)
	assert.Equal(t, int64(10), stats.CatalogCounts[0].Count)
	assert.True(t, stats.CatalogCounts[0].AsExpected)
}

func TestServerErrorSurfacesStatusCode(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "catalog on fire", http.StatusBadGateway)
	})

	err := c.SetSyncStage(context.Background(), testRetailer(), status.StageDone, "")
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "status code 502")
}
