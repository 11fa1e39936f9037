// Package jobs decides whether to schedule, defer, or cancel pending sync
// runs for a retailer, deduplicating against the runs already queued on the
// external task scheduler.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// TaskSyncRetailer is the scheduler task id executing one retailer's sync
// pipeline
const TaskSyncRetailer = "retailer-sync"

// Default scheduling delays. Partial syncs batch tolerantly; full syncs are
// user visible and run near-immediately.
const (
	DefaultPartialDelay = 30 * time.Minute
	DefaultFullDelay    = 10 * time.Second
)

// Run tags
const (
	tagStyleFull    = "style:full"
	tagStylePartial = "style:partial"
)

// SyncPayload is the task payload a pipeline run receives
type SyncPayload struct {
	RetailerID string           `json:"retailerId"`
	Style      status.SyncStyle `json:"style"`
	Reason     string           `json:"reason,omitempty"`
}

// Scheduler schedules retailer sync runs with dedup semantics
//
//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/jobs Scheduler
type Scheduler interface {
	// Schedule queues a sync run for the retailer, applying the dedup
	// rules against currently pending runs. A nil delayOverride selects
	// the style's default delay. Returns the new run id, or "" when the
	// request was deduplicated away.
	Schedule(
		ctx context.Context,
		retailerID string,
		style status.SyncStyle,
		reason string,
		delayOverride *time.Duration,
	) (string, error)

	// PartialDelay returns the default delay applied to partial sync runs
	PartialDelay() time.Duration
}

// defaultScheduler is the default implementation of Scheduler
type defaultScheduler struct {
	client       scheduler.Client
	partialDelay time.Duration
	fullDelay    time.Duration
}

// NewScheduler creates a sync run scheduler. Zero delays select the
// defaults.
func NewScheduler(client scheduler.Client, partialDelay, fullDelay time.Duration) Scheduler {
	if partialDelay == 0 {
		partialDelay = DefaultPartialDelay
	}
	if fullDelay == 0 {
		fullDelay = DefaultFullDelay
	}
	return &defaultScheduler{
		client:       client,
		partialDelay: partialDelay,
		fullDelay:    fullDelay,
	}
}

// PartialDelay returns the default delay applied to partial sync runs
func (s *defaultScheduler) PartialDelay() time.Duration {
	return s.partialDelay
}

func (s *defaultScheduler) Schedule(
	ctx context.Context,
	retailerID string,
	style status.SyncStyle,
	reason string,
	delayOverride *time.Duration,
) (string, error) {
	pending, err := s.client.ListPendingRuns(ctx, scheduler.RunFilter{
		TaskID: TaskSyncRetailer,
		Tags:   []string{retailerTag(retailerID)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pending runs for %s: %w", retailerID, err)
	}

	switch style {
	case status.SyncStyleFull:
		// A full run supersedes everything already queued
		for _, run := range pending {
			if err := s.client.CancelRun(ctx, run.ID); err != nil {
				return "", fmt.Errorf("failed to cancel pending run %s: %w", run.ID, err)
			}
			slog.Info("Cancelled pending run superseded by full sync",
				"retailer", retailerID, "run_id", run.ID)
		}

	case status.SyncStylePartial:
		if anyRunHasTag(pending, tagStyleFull) {
			// The upcoming full sync covers this partial request; drop any
			// queued partials too, they are redundant work
			for _, run := range pending {
				if !hasTag(run, tagStylePartial) {
					continue
				}
				if err := s.client.CancelRun(ctx, run.ID); err != nil {
					return "", fmt.Errorf("failed to cancel pending run %s: %w", run.ID, err)
				}
			}
			slog.Debug("Partial sync superseded by pending full sync", "retailer", retailerID)
			return "", nil
		}
		if anyRunHasTag(pending, tagStylePartial) {
			slog.Debug("Partial sync already pending", "retailer", retailerID)
			return "", nil
		}

	default:
		return "", fmt.Errorf("unknown sync style %q", style)
	}

	delay := s.fullDelay
	if style == status.SyncStylePartial {
		delay = s.partialDelay
	}
	if delayOverride != nil {
		delay = *delayOverride
	}

	runID, err := s.client.Trigger(ctx, TaskSyncRetailer,
		SyncPayload{RetailerID: retailerID, Style: style, Reason: reason},
		scheduler.TriggerOptions{
			Delay: delay,
			// One pipeline instance per retailer at a time, even when
			// schedule calls race
			ConcurrencyKey: retailerID,
			Tags:           []string{retailerTag(retailerID), styleTag(style)},
		})
	if err != nil {
		return "", fmt.Errorf("failed to trigger %s sync for %s: %w", style, retailerID, err)
	}

	slog.Info("Scheduled sync run",
		"retailer", retailerID,
		"style", style,
		"reason", reason,
		"delay", delay,
		"run_id", runID)
	return runID, nil
}

func retailerTag(retailerID string) string {
	return "retailer:" + retailerID
}

func styleTag(style status.SyncStyle) string {
	if style == status.SyncStyleFull {
		return tagStyleFull
	}
	return tagStylePartial
}

func hasTag(run scheduler.Run, tag string) bool {
	for _, t := range run.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func anyRunHasTag(runs []scheduler.Run, tag string) bool {
	for _, run := range runs {
		if hasTag(run, tag) {
			return true
		}
	}
	return false
}
