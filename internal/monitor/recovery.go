// Package monitor implements the periodic sweep that detects and repairs
// stalled or inconsistent retailer syncs.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cartfeed/catalog-sync-server/internal/catalog"
	"github.com/cartfeed/catalog-sync-server/internal/jobs"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/state"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// TaskRecoverySweep is the scheduler task id executing the sweep
const TaskRecoverySweep = "sync-recovery-sweep"

// Recovery reasons attached to the corrective full sync
const (
	// ReasonUnblock tags a full sync triggered because ingestion stalled
	ReasonUnblock = "unblock"

	// ReasonResync tags a full sync triggered because catalog counts
	// disagree with expectations
	ReasonResync = "resync"
)

const (
	// defaultSweepInterval is how far out each sweep schedules its successor
	defaultSweepInterval = 6 * time.Hour

	// staleThreshold is how old a reported timestamp may be before the
	// retailer counts as stalled
	staleThreshold = 24 * time.Hour

	// sweepBatchSize bounds concurrent stat fetches, trading sweep latency
	// for back-pressure on the destination catalog API
	sweepBatchSize = 5
)

// Monitor is the recovery sweep
type Monitor interface {
	// Sweep classifies every active retailer's sync freshness and triggers
	// corrective full syncs. ownRunID identifies the sweep's own scheduler
	// run so stale prior sweeps can be cancelled without self-cancelling.
	Sweep(ctx context.Context, ownRunID string) error
}

// defaultMonitor is the default implementation of Monitor
type defaultMonitor struct {
	states       state.RetailerStateService
	catalog      catalog.Client
	jobScheduler jobs.Scheduler
	scheduler    scheduler.Client
	interval     time.Duration
	now          func() time.Time
}

// New creates a recovery monitor. A zero interval selects the default.
func New(
	states state.RetailerStateService,
	catalogClient catalog.Client,
	jobScheduler jobs.Scheduler,
	schedulerClient scheduler.Client,
	interval time.Duration,
) Monitor {
	if interval == 0 {
		interval = defaultSweepInterval
	}
	return &defaultMonitor{
		states:       states,
		catalog:      catalogClient,
		jobScheduler: jobScheduler,
		scheduler:    schedulerClient,
		interval:     interval,
		now:          time.Now,
	}
}

func (m *defaultMonitor) Sweep(ctx context.Context, ownRunID string) error {
	// Single-sweep-in-flight: drop every previously scheduled sweep other
	// than ourselves before queuing the next one
	if err := m.cancelStaleSweeps(ctx, ownRunID); err != nil {
		slog.Error("Failed to cancel stale sweeps", "error", err)
	}
	if _, err := m.scheduler.Trigger(ctx, TaskRecoverySweep, nil, scheduler.TriggerOptions{
		Delay: m.interval,
	}); err != nil {
		slog.Error("Failed to schedule next sweep", "error", err)
	}

	retailers, err := m.states.ListActiveRetailers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active retailers: %w", err)
	}

	slog.Info("Starting recovery sweep", "retailer_count", len(retailers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepBatchSize)
	for _, retailer := range retailers {
		g.Go(func() error {
			// One retailer's failure never aborts the sweep for the rest
			m.checkRetailer(gctx, retailer)
			return nil
		})
	}
	return g.Wait()
}

// cancelStaleSweeps cancels pending sweep runs other than our own
func (m *defaultMonitor) cancelStaleSweeps(ctx context.Context, ownRunID string) error {
	pending, err := m.scheduler.ListPendingRuns(ctx, scheduler.RunFilter{TaskID: TaskRecoverySweep})
	if err != nil {
		return err
	}
	for _, run := range pending {
		if run.ID == ownRunID {
			continue
		}
		if err := m.scheduler.CancelRun(ctx, run.ID); err != nil {
			slog.Error("Failed to cancel stale sweep", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

// checkRetailer classifies one retailer and triggers the corrective sync
func (m *defaultMonitor) checkRetailer(ctx context.Context, retailer status.Retailer) {
	stats, err := m.catalog.FetchSyncStats(ctx, retailer)
	if err != nil {
		slog.Error("Failed to fetch sync stats",
			"retailer", retailer.ID, "error", err)
		return
	}

	freshness := Classify(stats, m.now())
	switch freshness {
	case status.FreshnessOverdue:
		slog.Warn("Retailer sync overdue, triggering full sync", "retailer", retailer.ID)
		m.triggerFullSync(ctx, retailer.ID, ReasonUnblock)
	case status.FreshnessMismatch:
		slog.Warn("Retailer catalog mismatch, triggering full sync", "retailer", retailer.ID)
		m.triggerFullSync(ctx, retailer.ID, ReasonResync)
	default:
		slog.Debug("Retailer sync healthy", "retailer", retailer.ID)
	}
}

func (m *defaultMonitor) triggerFullSync(ctx context.Context, retailerID, reason string) {
	if _, err := m.jobScheduler.Schedule(ctx, retailerID, status.SyncStyleFull, reason, nil); err != nil {
		slog.Error("Failed to schedule corrective sync",
			"retailer", retailerID, "reason", reason, "error", err)
	}
}

// Classify maps a retailer's reported sync stats to a freshness verdict.
// A stats record with no reported timestamps at all is ok: there is nothing
// to compare yet.
func Classify(stats *status.SyncStats, now time.Time) status.Freshness {
	if stats == nil {
		return status.FreshnessOK
	}

	if stats.LastIngestionDataDate != nil &&
		now.Sub(*stats.LastIngestionDataDate) > staleThreshold {
		return status.FreshnessOverdue
	}

	for _, count := range stats.CatalogCounts {
		if count.ReportedAt == nil {
			continue
		}
		if now.Sub(*count.ReportedAt) > staleThreshold || !count.AsExpected {
			return status.FreshnessMismatch
		}
	}
	return status.FreshnessOK
}
