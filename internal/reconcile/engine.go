// Package reconcile computes which previously-known catalog entities no
// longer exist upstream and instructs the destination catalog to retain
// exactly the surviving set.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/blob"
	"github.com/cartfeed/catalog-sync-server/internal/catalog"
	"github.com/cartfeed/catalog-sync-server/internal/status"
	"github.com/cartfeed/catalog-sync-server/internal/telemetry"
)

// ErrCountMismatch means the enumerated id count disagreed with the export
// job's reported count. Reconciling anyway would risk deleting live data,
// so the pass is abandoned: a missed cleanup cycle is recoverable, an
// over-deletion is not.
var ErrCountMismatch = errors.New("enumerated id count does not match expected count")

// Entry is one enumerated upstream id with its removal marker
type Entry struct {
	ID     string
	Remove bool
}

// EnumerateFunc streams every currently-existing upstream id, invoking emit
// per record
type EnumerateFunc func(ctx context.Context, emit func(Entry) error) error

// Engine reconciles one entity type against the destination catalog
type Engine interface {
	// Reconcile enumerates upstream ids, verifies the count against
	// expectedCount, uploads the surviving id set, and instructs the
	// destination to retain only those ids. Returns the kept ids.
	Reconcile(
		ctx context.Context,
		retailer status.Retailer,
		entityType catalog.EntityType,
		enumerate EnumerateFunc,
		expectedCount int64,
	) ([]string, error)
}

// defaultEngine is the default implementation of Engine
type defaultEngine struct {
	catalog catalog.Client
	blob    blob.Store
	bucket  string
	metrics *telemetry.ReconcileMetrics
	now     func() time.Time
}

// NewEngine creates a reconciliation engine uploading keep-lists to the
// given blob bucket
func NewEngine(
	catalogClient catalog.Client,
	blobStore blob.Store,
	bucket string,
	metrics *telemetry.ReconcileMetrics,
) Engine {
	return &defaultEngine{
		catalog: catalogClient,
		blob:    blobStore,
		bucket:  bucket,
		metrics: metrics,
		now:     time.Now,
	}
}

func (e *defaultEngine) Reconcile(
	ctx context.Context,
	retailer status.Retailer,
	entityType catalog.EntityType,
	enumerate EnumerateFunc,
	expectedCount int64,
) ([]string, error) {
	seen := make(map[string]struct{})
	toRemove := make(map[string]struct{})

	err := enumerate(ctx, func(entry Entry) error {
		if entry.ID == "" {
			return nil
		}
		seen[entry.ID] = struct{}{}
		if entry.Remove {
			toRemove[entry.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s ids: %w", entityType, err)
	}

	// The export's own object count is the ground truth for how many
	// records the stream should have carried. A disagreement means the
	// export was unreliable; uploading a keep-list built from it could
	// delete live entities.
	if int64(len(seen)) != expectedCount {
		e.metrics.RecordAbort(ctx, retailer.ID, string(entityType))
		slog.Warn("Reconciliation aborted on count mismatch",
			"retailer", retailer.ID,
			"entity_type", entityType,
			"enumerated", len(seen),
			"expected", expectedCount)
		return nil, fmt.Errorf("%s: enumerated %d, expected %d: %w",
			entityType, len(seen), expectedCount, ErrCountMismatch)
	}

	kept := make([]string, 0, len(seen))
	for id := range seen {
		if _, removed := toRemove[id]; !removed {
			kept = append(kept, id)
		}
	}
	sort.Strings(kept)

	key := fmt.Sprintf("%s/%s/keep-%d.json", retailer.ID, entityType, e.now().UnixMilli())
	fileURL, err := e.blob.UploadJSON(ctx, e.bucket, key, kept)
	if err != nil {
		return nil, fmt.Errorf("failed to upload keep-list for %s: %w", entityType, err)
	}

	if err := e.catalog.RetainOnlyIDs(ctx, retailer, entityType, fileURL); err != nil {
		return nil, err
	}

	removed := int64(len(seen) - len(kept))
	e.metrics.RecordRemoved(ctx, retailer.ID, string(entityType), removed)
	slog.Info("Reconciliation completed",
		"retailer", retailer.ID,
		"entity_type", entityType,
		"kept", len(kept),
		"removed", removed)

	return kept, nil
}
