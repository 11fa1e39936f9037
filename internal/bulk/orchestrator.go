// Package bulk requests asynchronous export jobs from the source platform
// and waits for them to finish without busy-polling: between status checks
// the run is fully suspended on a scheduler wait token and resumes only on
// external signal or timeout.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cartfeed/catalog-sync-server/internal/platform"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// ErrStillRunning is returned when the job is still running after the wait
// budget is exhausted. The caller treats this as fatal for the run.
var ErrStillRunning = errors.New("bulk operation still running after max waits")

// Orchestrator requests a bulk export and awaits its completion
//
//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/cartfeed/catalog-sync-server/internal/bulk Orchestrator
type Orchestrator interface {
	// RequestAndAwait submits an export job for the query and blocks,
	// via suspend-token checkpoints, until the job reaches a terminal
	// status or the wait budget runs out
	RequestAndAwait(
		ctx context.Context,
		retailer status.Retailer,
		opType platform.OperationType,
		query string,
		style status.SyncStyle,
		timeout time.Duration,
		maxWaits int,
	) (*platform.BulkExportJob, error)
}

// defaultOrchestrator is the default implementation of Orchestrator
type defaultOrchestrator struct {
	platform  platform.Client
	scheduler scheduler.Client
}

// NewOrchestrator creates an orchestrator with the given clients
func NewOrchestrator(platformClient platform.Client, schedulerClient scheduler.Client) Orchestrator {
	return &defaultOrchestrator{
		platform:  platformClient,
		scheduler: schedulerClient,
	}
}

func (o *defaultOrchestrator) RequestAndAwait(
	ctx context.Context,
	retailer status.Retailer,
	opType platform.OperationType,
	query string,
	style status.SyncStyle,
	timeout time.Duration,
	maxWaits int,
) (*platform.BulkExportJob, error) {
	// The idempotency key makes request retries land on the same remote job
	idemKey := fmt.Sprintf("%s:%s:%s", retailer.ID, opType, style)

	jobID, err := o.platform.RequestBulkOperation(ctx, retailer, query, idemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s export: %w", opType, err)
	}

	slog.Info("Requested bulk export",
		"retailer", retailer.ID,
		"operation", opType,
		"job_id", jobID)

	var job *platform.BulkExportJob
	for wait := 0; wait < maxWaits; wait++ {
		// Token idempotency key equals the remote job id so re-entrant
		// waits after a resume reuse the same token
		token, err := o.scheduler.CreateSuspendToken(ctx, scheduler.TokenOptions{
			Timeout:        timeout,
			IdempotencyKey: jobID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create suspend token for job %s: %w", jobID, err)
		}

		result, err := o.scheduler.AwaitToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to await token for job %s: %w", jobID, err)
		}

		job, err = o.platform.PollBulkOperation(ctx, retailer, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll job %s: %w", jobID, err)
		}

		if result.Ok {
			// External completion signal arrived before the timeout;
			// the job is done regardless of what the poll raced against
			slog.Info("Bulk export completed via signal",
				"retailer", retailer.ID,
				"job_id", jobID,
				"status", job.Status)
			return job, nil
		}

		if job.Status.Terminal() {
			slog.Info("Bulk export reached terminal status during wait",
				"retailer", retailer.ID,
				"job_id", jobID,
				"status", job.Status)
			return job, nil
		}

		slog.Debug("Bulk export still running, suspending again",
			"retailer", retailer.ID,
			"job_id", jobID,
			"wait", wait+1,
			"max_waits", maxWaits)
	}

	return nil, fmt.Errorf("job %s (%s) for retailer %s: %w", jobID, opType, retailer.ID, ErrStillRunning)
}
