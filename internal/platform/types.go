package platform

import "time"

// OperationType identifies what a bulk export job enumerates
type OperationType string

const (
	// OperationProducts exports products with variants and media
	OperationProducts OperationType = "products"

	// OperationInventory exports inventory levels
	OperationInventory OperationType = "inventory"

	// OperationCollections exports collections
	OperationCollections OperationType = "collections"

	// OperationIDAudit exports the bare id/visibility stream used by
	// deletion reconciliation
	OperationIDAudit OperationType = "id-audit"
)

// JobStatus is the remote state of a bulk export job
type JobStatus string

const (
	// JobStatusCreated means the job is queued but not started
	JobStatusCreated JobStatus = "CREATED"

	// JobStatusRunning means the job is materializing data
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted means the data file is ready for download
	JobStatusCompleted JobStatus = "COMPLETED"
)

// Terminal reports whether the status will not change again
func (s JobStatus) Terminal() bool {
	return s != JobStatusCreated && s != JobStatusRunning
}

// BulkExportJob is one asynchronous export request on the source platform.
// It is immutable once completed.
type BulkExportJob struct {
	ID          string
	Type        OperationType
	Status      JobStatus
	DataURL     string
	ObjectCount int64
	StartedAt   *time.Time
	EndedAt     *time.Time
}
