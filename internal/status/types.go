// Package status contains the shared domain types used to track a
// retailer's catalog synchronization state.
package status

import "time"

// RetailerStatus represents the lifecycle state of a retailer
type RetailerStatus string

const (
	// RetailerStatusActive means the retailer is installed and syncing
	RetailerStatusActive RetailerStatus = "active"

	// RetailerStatusIdle means the retailer is installed but syncing is paused
	RetailerStatusIdle RetailerStatus = "idle"

	// RetailerStatusClosed means the retailer's store is gone and no further
	// syncs should be scheduled
	RetailerStatusClosed RetailerStatus = "closed"
)

// SyncStyle distinguishes a full catalog re-examination from an
// incremental sync since the last checkpoint
type SyncStyle string

const (
	// SyncStyleFull re-examines the entire catalog
	SyncStyleFull SyncStyle = "full"

	// SyncStylePartial only considers changes since the last checkpoint
	SyncStylePartial SyncStyle = "partial"
)

// Stage is one named phase of a retailer's catalog synchronization
type Stage string

// Pipeline stages, in execution order
const (
	StageRequestProducts      Stage = "RequestProducts"
	StageProcessProducts      Stage = "ProcessProducts"
	StageRequestStockLevels   Stage = "RequestStockLevels"
	StageProcessStockLevels   Stage = "ProcessStockLevels"
	StageRequestProductGroups Stage = "RequestProductGroups"
	StageProcessProductGroups Stage = "ProcessProductGroups"
	StageCleanUp              Stage = "CleanUp"
	StageDone                 Stage = "Done"
	StageFailed               Stage = "Failed"
)

// SyncErrorCode classifies why a retailer's sync terminated abnormally
type SyncErrorCode string

const (
	// SyncErrorNone means the last sync completed without error
	SyncErrorNone SyncErrorCode = ""

	// SyncErrorStoreUninstalled means the platform rejected our credentials
	// because the app was uninstalled
	SyncErrorStoreUninstalled SyncErrorCode = "store-uninstalled"

	// SyncErrorPaymentRequired means the store is frozen pending payment
	SyncErrorPaymentRequired SyncErrorCode = "payment-required"

	// SyncErrorStoreClosed means the store no longer exists
	SyncErrorStoreClosed SyncErrorCode = "store-closed"

	// SyncErrorExportStillRunning means a bulk export did not finish within
	// the wait budget
	SyncErrorExportStillRunning SyncErrorCode = "export-still-running"

	// SyncErrorUnknown covers everything the pipeline could not classify
	SyncErrorUnknown SyncErrorCode = "unknown"
)

// Retailer identifies one retailer on the source platform
type Retailer struct {
	// ID is the internal retailer identifier
	ID string

	// Domain is the retailer's store domain on the source platform
	Domain string

	// AccessToken authorizes calls against the retailer's store
	AccessToken string
}

// RetailerSyncState is the per-retailer sync bookkeeping record.
// It is created at onboarding and mutated by every pipeline stage and by
// the recovery monitor; it is never deleted, only status-flipped.
type RetailerSyncState struct {
	RetailerID string         `json:"retailerId" yaml:"retailerId"`
	Status     RetailerStatus `json:"status" yaml:"status"`

	// Stage is the most recently reported pipeline stage
	Stage Stage `json:"stage,omitempty" yaml:"stage,omitempty"`

	LastProductSync            *time.Time `json:"lastProductSync,omitempty" yaml:"lastProductSync,omitempty"`
	LastProductGroupSync       *time.Time `json:"lastProductGroupSync,omitempty" yaml:"lastProductGroupSync,omitempty"`
	LastPartialSyncRequestTime *time.Time `json:"lastPartialSyncRequestTime,omitempty" yaml:"lastPartialSyncRequestTime,omitempty"`
	NextPartialSyncRequestTime *time.Time `json:"nextPartialSyncRequestTime,omitempty" yaml:"nextPartialSyncRequestTime,omitempty"`
	LastSafetySyncCompleted    *time.Time `json:"lastSafetySyncCompleted,omitempty" yaml:"lastSafetySyncCompleted,omitempty"`

	SyncErrorCode SyncErrorCode `json:"syncErrorCode,omitempty" yaml:"syncErrorCode,omitempty"`

	// Closed is set once the store-closed path has fired; no scheduler
	// should pick the retailer up again after this
	Closed bool `json:"closed,omitempty" yaml:"closed,omitempty"`
}

// Freshness classifies how healthy a retailer's reported sync stats look
type Freshness string

const (
	// FreshnessOK means nothing to correct
	FreshnessOK Freshness = "ok"

	// FreshnessOverdue means the last reported ingestion is too old
	FreshnessOverdue Freshness = "overdue"

	// FreshnessMismatch means at least one catalog count report is stale or
	// explicitly flagged as not matching expectations
	FreshnessMismatch Freshness = "mismatch"
)

// CatalogCountStat is one entity type's count report from the destination
// catalog
type CatalogCountStat struct {
	EntityType string     `json:"entityType"`
	Count      int64      `json:"count"`
	AsExpected bool       `json:"asExpected"`
	ReportedAt *time.Time `json:"reportedAt,omitempty"`
}

// SyncStats is the destination catalog's view of a retailer's sync health,
// consumed by the recovery monitor
type SyncStats struct {
	LastIngestionDataDate *time.Time         `json:"lastIngestionDataDate,omitempty"`
	CatalogCounts         []CatalogCountStat `json:"catalogCounts,omitempty"`
}
