// Package pipeline runs one retailer's catalog synchronization as an
// ordered sequence of named stages, reporting stage transitions to the
// destination catalog and handling stage failure uniformly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cartfeed/catalog-sync-server/internal/bulk"
	"github.com/cartfeed/catalog-sync-server/internal/catalog"
	"github.com/cartfeed/catalog-sync-server/internal/jobs"
	otelutil "github.com/cartfeed/catalog-sync-server/internal/otel"
	"github.com/cartfeed/catalog-sync-server/internal/platform"
	"github.com/cartfeed/catalog-sync-server/internal/reconcile"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/state"
	"github.com/cartfeed/catalog-sync-server/internal/status"
	"github.com/cartfeed/catalog-sync-server/internal/telemetry"
)

// Config tunes pipeline execution
type Config struct {
	// BulkWaitTimeout is each suspend-token checkpoint's budget
	BulkWaitTimeout time.Duration `yaml:"bulkWaitTimeout,omitempty"`

	// MaxWaits bounds how many checkpoints one export may consume
	MaxWaits int `yaml:"maxWaits,omitempty"`

	// ProductBatchSize is the upsert batch size for products and inventory
	ProductBatchSize int `yaml:"productBatchSize,omitempty"`

	// GroupBatchSize is the upsert batch size for product groups
	GroupBatchSize int `yaml:"groupBatchSize,omitempty"`
}

// DefaultConfig returns the pipeline tuning used when nothing is configured
func DefaultConfig() Config {
	return Config{
		BulkWaitTimeout:  2 * time.Minute,
		MaxWaits:         30,
		ProductBatchSize: 250,
		GroupBatchSize:   5,
	}
}

// Pipeline executes one retailer's sync run
//
//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/pipeline Pipeline
type Pipeline interface {
	// Run executes the full stage sequence for the retailer. runID is the
	// scheduler run executing this pipeline, used for self-cancellation on
	// the store-closed path.
	Run(ctx context.Context, retailerID string, style status.SyncStyle, runID string) error
}

// defaultPipeline is the default implementation of Pipeline
type defaultPipeline struct {
	cfg          Config
	states       state.RetailerStateService
	orchestrator bulk.Orchestrator
	platform     platform.Client
	catalog      catalog.Client
	reconciler   reconcile.Engine
	jobScheduler jobs.Scheduler
	scheduler    scheduler.Client
	transformer  Transformer
	metrics      *telemetry.SyncMetrics
	tracer       trace.Tracer
	now          func() time.Time
}

// New creates a pipeline with the given collaborators. Zero config fields
// select defaults.
func New(
	cfg Config,
	states state.RetailerStateService,
	orchestrator bulk.Orchestrator,
	platformClient platform.Client,
	catalogClient catalog.Client,
	reconciler reconcile.Engine,
	jobScheduler jobs.Scheduler,
	schedulerClient scheduler.Client,
	transformer Transformer,
	metrics *telemetry.SyncMetrics,
) Pipeline {
	def := DefaultConfig()
	if cfg.BulkWaitTimeout == 0 {
		cfg.BulkWaitTimeout = def.BulkWaitTimeout
	}
	if cfg.MaxWaits == 0 {
		cfg.MaxWaits = def.MaxWaits
	}
	if cfg.ProductBatchSize == 0 {
		cfg.ProductBatchSize = def.ProductBatchSize
	}
	if cfg.GroupBatchSize == 0 {
		cfg.GroupBatchSize = def.GroupBatchSize
	}
	if transformer == nil {
		transformer = NewPassthroughTransformer()
	}
	return &defaultPipeline{
		cfg:          cfg,
		states:       states,
		orchestrator: orchestrator,
		platform:     platformClient,
		catalog:      catalogClient,
		reconciler:   reconciler,
		jobScheduler: jobScheduler,
		scheduler:    schedulerClient,
		transformer:  transformer,
		metrics:      metrics,
		tracer:       otel.Tracer("catalog-sync/pipeline"),
		now:          time.Now,
	}
}

// syncRun carries one run's working state across stages
type syncRun struct {
	retailer status.Retailer
	style    status.SyncStyle
	runID    string
	since    *time.Time

	// stage job results, populated by the Request* stages
	productsJob  *platform.BulkExportJob
	inventoryJob *platform.BulkExportJob
	groupsJob    *platform.BulkExportJob

	stats catalog.Stats
}

// stageFunc executes one named stage
type stageFunc struct {
	stage status.Stage
	run   func(ctx context.Context, r *syncRun) error
}

func (p *defaultPipeline) Run(
	ctx context.Context, retailerID string, style status.SyncStyle, runID string,
) error {
	started := p.now()

	ctx, span := otelutil.StartSpan(ctx, p.tracer, "pipeline.Run",
		trace.WithAttributes(
			otelutil.AttrRetailerID.String(retailerID),
			otelutil.AttrSyncStyle.String(string(style)),
			otelutil.AttrSyncRunID.String(runID),
		))
	defer span.End()

	retailer, err := p.states.GetRetailer(ctx, retailerID)
	if err != nil {
		return err
	}
	syncState, err := p.states.GetSyncState(ctx, retailerID)
	if err != nil {
		return err
	}

	// A retailer that went idle or closed since this run was scheduled
	// gets no work; completing a pointless sync helps nobody
	if syncState.Closed || syncState.Status != status.RetailerStatusActive {
		slog.Info("Skipping sync for inactive retailer",
			"retailer", retailerID, "status", syncState.Status)
		return nil
	}

	r := &syncRun{
		retailer: *retailer,
		style:    style,
		runID:    runID,
		since:    syncState.LastPartialSyncRequestTime,
	}

	err = p.runStages(ctx, r)
	success := err == nil
	p.metrics.RecordSyncDuration(ctx, retailerID, string(style), p.now().Sub(started), success)

	if err != nil {
		otelutil.RecordError(span, err)
		return p.handleFailure(ctx, r, err)
	}

	return p.finish(ctx, r)
}

// runStages drives the stage sequence, reporting each upcoming stage to the
// destination catalog before it begins
func (p *defaultPipeline) runStages(ctx context.Context, r *syncRun) error {
	stages := []stageFunc{
		{status.StageRequestProducts, p.requestProducts},
		{status.StageProcessProducts, p.processProducts},
		{status.StageRequestStockLevels, p.requestStockLevels},
		{status.StageProcessStockLevels, p.processStockLevels},
		{status.StageRequestProductGroups, p.requestProductGroups},
		{status.StageProcessProductGroups, p.processProductGroups},
		{status.StageCleanUp, p.cleanUp},
	}

	for _, s := range stages {
		if err := p.enterStage(ctx, r, s.stage); err != nil {
			return err
		}
		if err := s.run(ctx, r); err != nil {
			return fmt.Errorf("stage %s: %w", s.stage, err)
		}
	}
	return nil
}

// enterStage reports and persists the upcoming stage. The persisted stage
// never advances past work that has not completed: it is written before the
// stage runs and only the next stage entry moves it forward.
func (p *defaultPipeline) enterStage(ctx context.Context, r *syncRun, stage status.Stage) error {
	slog.Info("Entering sync stage",
		"retailer", r.retailer.ID, "stage", stage, "style", r.style)

	if err := p.catalog.SetSyncStage(ctx, r.retailer, stage, ""); err != nil {
		return fmt.Errorf("failed to report stage %s: %w", stage, err)
	}
	_, err := p.states.UpdateSyncState(ctx, r.retailer.ID, func(st *status.RetailerSyncState) bool {
		st.Stage = stage
		return true
	})
	return err
}

// finish runs the success tail: final stats, Done stage, bookkeeping, and
// the next partial sync
func (p *defaultPipeline) finish(ctx context.Context, r *syncRun) error {
	if err := p.catalog.ReportCatalogStats(ctx, r.retailer, r.stats, false); err != nil {
		return fmt.Errorf("failed to report final stats: %w", err)
	}
	if err := p.catalog.SetSyncStage(ctx, r.retailer, status.StageDone, ""); err != nil {
		return fmt.Errorf("failed to report Done stage: %w", err)
	}

	now := p.now()
	_, err := p.states.UpdateSyncState(ctx, r.retailer.ID, func(st *status.RetailerSyncState) bool {
		st.Stage = status.StageDone
		st.SyncErrorCode = status.SyncErrorNone
		st.LastProductSync = &now
		st.LastProductGroupSync = &now
		if r.style == status.SyncStyleFull {
			st.LastSafetySyncCompleted = &now
		}
		st.LastPartialSyncRequestTime = &now
		next := now.Add(p.jobScheduler.PartialDelay())
		st.NextPartialSyncRequestTime = &next
		return true
	})
	if err != nil {
		return err
	}

	// Queue the next partial sync; its default delay provides the cadence
	if _, err := p.jobScheduler.Schedule(ctx, r.retailer.ID, status.SyncStylePartial, "", nil); err != nil {
		slog.Error("Failed to schedule next partial sync",
			"retailer", r.retailer.ID, "error", err)
	}

	slog.Info("Sync completed",
		"retailer", r.retailer.ID,
		"style", r.style,
		"products", r.stats.ProductCount,
		"variants", r.stats.VariantCount,
		"groups", r.stats.ProductGroupCount)
	return nil
}

// handleFailure applies the one-place failure policy: the store-closed
// class is intercepted and terminal, everything else is reported as Failed
// and re-raised
func (p *defaultPipeline) handleFailure(ctx context.Context, r *syncRun, runErr error) error {
	if closed := classifyStoreClosed(runErr); closed != nil {
		return p.handleStoreClosed(ctx, r, closed)
	}

	errorCode := status.SyncErrorUnknown
	if errors.Is(runErr, bulk.ErrStillRunning) {
		errorCode = status.SyncErrorExportStillRunning
	}

	if _, err := p.states.UpdateSyncState(ctx, r.retailer.ID, func(st *status.RetailerSyncState) bool {
		st.Stage = status.StageFailed
		st.SyncErrorCode = errorCode
		return true
	}); err != nil {
		slog.Error("Failed to persist sync error", "retailer", r.retailer.ID, "error", err)
	}

	// External consumers must never see a retailer stuck mid-sync without
	// an explanation
	if err := p.catalog.SetSyncStage(ctx, r.retailer, status.StageFailed, runErr.Error()); err != nil {
		slog.Error("Failed to report Failed stage", "retailer", r.retailer.ID, "error", err)
	}

	slog.Error("Sync failed",
		"retailer", r.retailer.ID, "style", r.style, "error", runErr)
	return runErr
}

// handleStoreClosed records the terminal condition, reports store-closed
// stats, and cancels the run instead of letting the scheduler retry it
func (p *defaultPipeline) handleStoreClosed(
	ctx context.Context, r *syncRun, closed *StoreClosedError,
) error {
	slog.Warn("Store closed, terminating sync",
		"retailer", r.retailer.ID, "reason", closed.Reason)

	if _, err := p.states.UpdateSyncState(ctx, r.retailer.ID, func(st *status.RetailerSyncState) bool {
		st.Status = status.RetailerStatusClosed
		st.Closed = true
		st.Stage = status.StageFailed
		st.SyncErrorCode = closed.Reason.ErrorCode()
		return true
	}); err != nil {
		slog.Error("Failed to persist store-closed state", "retailer", r.retailer.ID, "error", err)
	}

	if err := p.catalog.ReportCatalogStats(ctx, r.retailer, catalog.Stats{}, true); err != nil {
		slog.Error("Failed to report store-closed stats", "retailer", r.retailer.ID, "error", err)
	}
	if err := p.catalog.SetSyncStage(ctx, r.retailer, status.StageFailed, string(closed.Reason)); err != nil {
		slog.Error("Failed to report Failed stage", "retailer", r.retailer.ID, "error", err)
	}

	if r.runID != "" {
		if err := p.scheduler.CancelRun(ctx, r.runID); err != nil {
			slog.Error("Failed to cancel run", "run_id", r.runID, "error", err)
		}
	}

	// The condition is terminal; the error is consumed so the scheduler
	// does not retry a store that is gone
	return nil
}
