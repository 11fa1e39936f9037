// Package catalog is the client for the downstream catalog service. Every
// call carries a signed request identifying the retailer domain.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/httpclient"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// EntityType identifies a destination catalog entity collection
type EntityType string

const (
	// EntityProducts covers products and their variants
	EntityProducts EntityType = "products"

	// EntityProductGroups covers collections/product groups
	EntityProductGroups EntityType = "product-groups"

	// EntityInventory covers stock levels
	EntityInventory EntityType = "inventory"
)

// Stats is the count report pushed after a sync pass
type Stats struct {
	ProductCount      int64 `json:"productCount"`
	VariantCount      int64 `json:"variantCount"`
	ProductGroupCount int64 `json:"productGroupCount"`
}

// Client is the interface to the destination catalog API
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/catalog Client
type Client interface {
	// UpsertEntities pushes a batch of transformed records
	UpsertEntities(ctx context.Context, retailer status.Retailer, entityType EntityType, records []json.RawMessage) error

	// RetainOnlyIDs removes every entity of the given type not present in
	// the id list at fileURL
	RetainOnlyIDs(ctx context.Context, retailer status.Retailer, entityType EntityType, fileURL string) error

	// ReportCatalogStats reports catalog counts, or the store-closed marker
	ReportCatalogStats(ctx context.Context, retailer status.Retailer, stats Stats, storeClosed bool) error

	// SetSyncStage reports the upcoming pipeline stage for external visibility
	SetSyncStage(ctx context.Context, retailer status.Retailer, stage status.Stage, reason string) error

	// FetchSyncStats reads back the destination's view of sync health
	FetchSyncStats(ctx context.Context, retailer status.Retailer) (*status.SyncStats, error)
}

// defaultClient is the default implementation of Client
type defaultClient struct {
	baseURL string
	signer  *Signer
	http    httpclient.Client
	policy  retry.Policy
	now     func() time.Time
}

// NewClient creates a catalog client against the given base URL
func NewClient(baseURL, hmacSecret string, policy retry.Policy) Client {
	return &defaultClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  NewSigner(hmacSecret),
		http:    httpclient.NewDefaultClient(0),
		policy:  policy,
		now:     time.Now,
	}
}

func (c *defaultClient) UpsertEntities(
	ctx context.Context, retailer status.Retailer, entityType EntityType, records []json.RawMessage,
) error {
	if len(records) == 0 {
		return nil
	}
	body := map[string]any{"records": records}
	if err := c.post(ctx, retailer, fmt.Sprintf("/v1/catalog/%s/upsert", entityType), body, nil); err != nil {
		return fmt.Errorf("failed to upsert %d %s records: %w", len(records), entityType, err)
	}
	return nil
}

func (c *defaultClient) RetainOnlyIDs(
	ctx context.Context, retailer status.Retailer, entityType EntityType, fileURL string,
) error {
	body := map[string]any{"idListUrl": fileURL}
	if err := c.post(ctx, retailer, fmt.Sprintf("/v1/catalog/%s/retain", entityType), body, nil); err != nil {
		return fmt.Errorf("failed to retain ids for %s: %w", entityType, err)
	}
	return nil
}

func (c *defaultClient) ReportCatalogStats(
	ctx context.Context, retailer status.Retailer, stats Stats, storeClosed bool,
) error {
	body := map[string]any{
		"counts":      stats,
		"storeClosed": storeClosed,
	}
	if err := c.post(ctx, retailer, "/v1/catalog/stats", body, nil); err != nil {
		return fmt.Errorf("failed to report catalog stats: %w", err)
	}
	return nil
}

func (c *defaultClient) SetSyncStage(
	ctx context.Context, retailer status.Retailer, stage status.Stage, reason string,
) error {
	body := map[string]any{
		"retailerId": retailer.ID,
		"stage":      stage,
	}
	if reason != "" {
		body["reason"] = reason
	}
	if err := c.post(ctx, retailer, "/v1/sync/stage", body, nil); err != nil {
		return fmt.Errorf("failed to set sync stage %s: %w", stage, err)
	}
	return nil
}

func (c *defaultClient) FetchSyncStats(
	ctx context.Context, retailer status.Retailer,
) (*status.SyncStats, error) {
	var stats status.SyncStats
	if err := c.post(ctx, retailer, "/v1/sync/stats/query", map[string]any{"retailerId": retailer.ID}, &stats); err != nil {
		return nil, fmt.Errorf("failed to fetch sync stats: %w", err)
	}
	return &stats, nil
}

// post sends a signed JSON POST through the retry policy
func (c *defaultClient) post(
	ctx context.Context, retailer status.Retailer, path string, body, out any,
) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		ts := c.now().Unix()
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Retailer-Domain", retailer.Domain)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Signature", c.signer.Sign(payload, ts))

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return httpclient.NewHTTPError(resp.StatusCode, c.baseURL+path, string(msg))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}
