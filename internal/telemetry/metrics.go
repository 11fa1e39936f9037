// Package telemetry provides OpenTelemetry instruments for sync and
// reconciliation operations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/cartfeed/catalog-sync-server/sync"

	// ReconcileMetricsMeterName is the name used for the reconciliation metrics meter
	ReconcileMetricsMeterName = "github.com/cartfeed/catalog-sync-server/reconcile"
)

// SyncMetrics holds the OpenTelemetry instruments for sync pipeline runs
type SyncMetrics struct {
	syncDuration metric.Float64Histogram
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"catsync_sync_duration_seconds",
		metric.WithDescription("Duration of retailer sync pipeline runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 60, 300, 900, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{syncDuration: syncDuration}, nil
}

// RecordSyncDuration records a completed pipeline run
func (m *SyncMetrics) RecordSyncDuration(
	ctx context.Context, retailerID string, style string, duration time.Duration, success bool,
) {
	if m == nil || m.syncDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("retailer", retailerID),
		attribute.String("style", style),
		attribute.Bool("success", success),
	}
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// ReconcileMetrics holds the OpenTelemetry instruments for catalog
// reconciliation
type ReconcileMetrics struct {
	removedTotal metric.Int64Counter
	abortsTotal  metric.Int64Counter
}

// NewReconcileMetrics creates a new ReconcileMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	removedTotal, err := meter.Int64Counter(
		"catsync_reconcile_removed_total",
		metric.WithDescription("Number of catalog entities removed by reconciliation"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	abortsTotal, err := meter.Int64Counter(
		"catsync_reconcile_aborts_total",
		metric.WithDescription("Number of reconciliation passes aborted on count mismatch"),
		metric.WithUnit("{abort}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		removedTotal: removedTotal,
		abortsTotal:  abortsTotal,
	}, nil
}

// RecordRemoved records how many entities a reconciliation pass removed
func (m *ReconcileMetrics) RecordRemoved(ctx context.Context, retailerID, entityType string, count int64) {
	if m == nil || m.removedTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("retailer", retailerID),
		attribute.String("entity_type", entityType),
	}
	m.removedTotal.Add(ctx, count, metric.WithAttributes(attrs...))
}

// RecordAbort records a reconciliation pass aborted on count mismatch
func (m *ReconcileMetrics) RecordAbort(ctx context.Context, retailerID, entityType string) {
	if m == nil || m.abortsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("retailer", retailerID),
		attribute.String("entity_type", entityType),
	}
	m.abortsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}
