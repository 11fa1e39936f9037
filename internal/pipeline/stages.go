package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cartfeed/catalog-sync-server/internal/catalog"
	"github.com/cartfeed/catalog-sync-server/internal/platform"
	"github.com/cartfeed/catalog-sync-server/internal/reconcile"
	"github.com/cartfeed/catalog-sync-server/internal/records"
)

func (p *defaultPipeline) requestProducts(ctx context.Context, r *syncRun) error {
	job, err := p.orchestrator.RequestAndAwait(ctx, r.retailer, platform.OperationProducts,
		buildQuery(productsQueryTmpl, r.style, r.since), r.style, p.cfg.BulkWaitTimeout, p.cfg.MaxWaits)
	if err != nil {
		return err
	}
	r.productsJob = job
	return nil
}

func (p *defaultPipeline) processProducts(ctx context.Context, r *syncRun) error {
	return p.processExport(ctx, r, r.productsJob, catalog.EntityProducts, p.cfg.ProductBatchSize,
		func(line records.Line) {
			switch line.Kind {
			case records.KindProduct:
				r.stats.ProductCount++
			case records.KindVariant:
				r.stats.VariantCount++
			}
		})
}

func (p *defaultPipeline) requestStockLevels(ctx context.Context, r *syncRun) error {
	job, err := p.orchestrator.RequestAndAwait(ctx, r.retailer, platform.OperationInventory,
		buildQuery(inventoryQueryTmpl, r.style, r.since), r.style, p.cfg.BulkWaitTimeout, p.cfg.MaxWaits)
	if err != nil {
		return err
	}
	r.inventoryJob = job
	return nil
}

func (p *defaultPipeline) processStockLevels(ctx context.Context, r *syncRun) error {
	return p.processExport(ctx, r, r.inventoryJob, catalog.EntityInventory, p.cfg.ProductBatchSize, nil)
}

func (p *defaultPipeline) requestProductGroups(ctx context.Context, r *syncRun) error {
	job, err := p.orchestrator.RequestAndAwait(ctx, r.retailer, platform.OperationCollections,
		buildQuery(collectionsQueryTmpl, r.style, r.since), r.style, p.cfg.BulkWaitTimeout, p.cfg.MaxWaits)
	if err != nil {
		return err
	}
	r.groupsJob = job
	return nil
}

func (p *defaultPipeline) processProductGroups(ctx context.Context, r *syncRun) error {
	return p.processExport(ctx, r, r.groupsJob, catalog.EntityProductGroups, p.cfg.GroupBatchSize,
		func(line records.Line) {
			if line.Kind == records.KindCollection {
				r.stats.ProductGroupCount++
			}
		})
}

// processExport downloads a completed export into a temp file, then streams
// it through the transformer into bounded-size upsert batches
func (p *defaultPipeline) processExport(
	ctx context.Context,
	r *syncRun,
	job *platform.BulkExportJob,
	entityType catalog.EntityType,
	batchSize int,
	count func(records.Line),
) error {
	if job == nil || job.DataURL == "" {
		// Partial syncs with no changes complete with an empty export
		slog.Debug("Export produced no data", "retailer", r.retailer.ID, "entity_type", entityType)
		return nil
	}

	file, cleanup, err := p.downloadToTempFile(ctx, job.DataURL)
	if err != nil {
		return err
	}
	defer cleanup()

	batch := make([]json.RawMessage, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.catalog.UpsertEntities(ctx, r.retailer, entityType, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err = records.Scan(file, func(line records.Line) error {
		if count != nil {
			count(line)
		}
		rec, err := p.transformer.Transform(line)
		if err != nil {
			return fmt.Errorf("failed to transform record %s: %w", line.ID, err)
		}
		if rec == nil {
			return nil
		}
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// cleanUp reconciles collections and products/variants independently: a
// failure in one must not block the other, so both passes always run and
// their errors are joined. Count mismatches skip deletion for that entity
// type and are logged for investigation.
func (p *defaultPipeline) cleanUp(ctx context.Context, r *syncRun) error {
	groupsErr := p.reconcileEntity(ctx, r, platform.OperationIDAudit, catalog.EntityProductGroups,
		buildQuery(collectionIDAuditQueryTmpl, r.style, nil))
	productsErr := p.reconcileEntity(ctx, r, platform.OperationIDAudit, catalog.EntityProducts,
		buildQuery(productIDAuditQueryTmpl, r.style, nil))
	return errors.Join(groupsErr, productsErr)
}

// reconcileEntity runs one id-audit export and feeds it to the
// reconciliation engine
func (p *defaultPipeline) reconcileEntity(
	ctx context.Context,
	r *syncRun,
	opType platform.OperationType,
	entityType catalog.EntityType,
	query string,
) error {
	job, err := p.orchestrator.RequestAndAwait(ctx, r.retailer, opType, query,
		r.style, p.cfg.BulkWaitTimeout, p.cfg.MaxWaits)
	if err != nil {
		return fmt.Errorf("id audit for %s: %w", entityType, err)
	}
	if job.DataURL == "" {
		slog.Debug("ID audit produced no data", "retailer", r.retailer.ID, "entity_type", entityType)
		return nil
	}

	file, cleanup, err := p.downloadToTempFile(ctx, job.DataURL)
	if err != nil {
		return err
	}
	defer cleanup()

	enumerate := func(_ context.Context, emit func(reconcile.Entry) error) error {
		return records.Scan(file, func(line records.Line) error {
			return emit(reconcile.Entry{
				ID:     line.ID,
				Remove: line.Published != nil && !*line.Published,
			})
		})
	}

	_, err = p.reconciler.Reconcile(ctx, r.retailer, entityType, enumerate, job.ObjectCount)
	if errors.Is(err, reconcile.ErrCountMismatch) {
		// Deletion is skipped for this entity type; the next cycle gets
		// another chance with a fresh export
		slog.Warn("Skipping deletion on unreliable export",
			"retailer", r.retailer.ID, "entity_type", entityType, "error", err)
		return nil
	}
	return err
}

// downloadToTempFile stages an export data file on local disk. The cleanup
// function closes and deletes it, and must run on every exit path.
func (p *defaultPipeline) downloadToTempFile(
	ctx context.Context, dataURL string,
) (*os.File, func(), error) {
	file, err := os.CreateTemp("", "export-*.jsonl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		file.Close()
		if err := os.Remove(file.Name()); err != nil {
			slog.Error("Failed to remove temp file", "path", file.Name(), "error", err)
		}
	}

	if err := p.platform.DownloadData(ctx, dataURL, file); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to download export data: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}
	return file, cleanup, nil
}
