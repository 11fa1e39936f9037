package bulk

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cartfeed/catalog-sync-server/internal/platform"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler/mocks"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// fakePlatform scripts RequestBulkOperation and a sequence of poll results
type fakePlatform struct {
	requestedIdemKey string
	requestErr       error
	jobID            string

	polls     []platform.JobStatus
	pollCount int
}

func (f *fakePlatform) RequestBulkOperation(
	_ context.Context, _ status.Retailer, _ string, idemKey string,
) (string, error) {
	f.requestedIdemKey = idemKey
	if f.requestErr != nil {
		return "", f.requestErr
	}
	return f.jobID, nil
}

func (f *fakePlatform) PollBulkOperation(
	_ context.Context, _ status.Retailer, jobID string,
) (*platform.BulkExportJob, error) {
	st := f.polls[f.pollCount]
	f.pollCount++
	return &platform.BulkExportJob{ID: jobID, Status: st}, nil
}

func (*fakePlatform) DownloadData(_ context.Context, _ string, _ io.Writer) error {
	return nil
}

func TestRequestAndAwaitCompletesOnSignal(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sched := mocks.NewMockClient(ctrl)
	plat := &fakePlatform{jobID: "job-1", polls: []platform.JobStatus{platform.JobStatusCompleted}}

	sched.EXPECT().
		CreateSuspendToken(gomock.Any(), scheduler.TokenOptions{
			Timeout:        time.Minute,
			IdempotencyKey: "job-1",
		}).
		Return(&scheduler.SuspendToken{ID: "tok-1"}, nil)
	sched.EXPECT().
		AwaitToken(gomock.Any(), &scheduler.SuspendToken{ID: "tok-1"}).
		Return(scheduler.TokenResult{Ok: true}, nil)

	o := NewOrchestrator(plat, sched)
	job, err := o.RequestAndAwait(
		context.Background(),
		status.Retailer{ID: "r-1"},
		platform.OperationProducts,
		"query {}",
		status.SyncStyleFull,
		time.Minute,
		5,
	)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "r-1:products:full", plat.requestedIdemKey)
	assert.Equal(t, 1, plat.pollCount)
}

func TestRequestAndAwaitTerminalAfterExpiredWaits(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sched := mocks.NewMockClient(ctrl)
	plat := &fakePlatform{
		jobID: "job-2",
		polls: []platform.JobStatus{
			platform.JobStatusRunning,
			platform.JobStatusRunning,
			platform.JobStatusCompleted,
		},
	}

	sched.EXPECT().
		CreateSuspendToken(gomock.Any(), gomock.Any()).
		Return(&scheduler.SuspendToken{ID: "tok-2"}, nil).
		Times(3)
	sched.EXPECT().
		AwaitToken(gomock.Any(), gomock.Any()).
		Return(scheduler.TokenResult{Ok: false}, nil).
		Times(3)

	o := NewOrchestrator(plat, sched)
	job, err := o.RequestAndAwait(
		context.Background(),
		status.Retailer{ID: "r-1"},
		platform.OperationInventory,
		"query {}",
		status.SyncStylePartial,
		time.Minute,
		10,
	)
	require.NoError(t, err)
	assert.Equal(t, platform.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, plat.pollCount)
}

func TestRequestAndAwaitStillRunningAfterMaxWaits(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sched := mocks.NewMockClient(ctrl)
	plat := &fakePlatform{
		jobID: "job-3",
		polls: []platform.JobStatus{
			platform.JobStatusRunning,
			platform.JobStatusRunning,
		},
	}

	sched.EXPECT().
		CreateSuspendToken(gomock.Any(), gomock.Any()).
		Return(&scheduler.SuspendToken{ID: "tok-3"}, nil).
		Times(2)
	sched.EXPECT().
		AwaitToken(gomock.Any(), gomock.Any()).
		Return(scheduler.TokenResult{Ok: false}, nil).
		Times(2)

	o := NewOrchestrator(plat, sched)
	job, err := o.RequestAndAwait(
		context.Background(),
		status.Retailer{ID: "r-1"},
		platform.OperationProducts,
		"query {}",
		status.SyncStyleFull,
		time.Minute,
		2,
	)
	require.ErrorIs(t, err, ErrStillRunning)
	assert.Nil(t, job)
	assert.Contains(t, err.Error(), "job-3")
}

func TestRequestAndAwaitRequestFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sched := mocks.NewMockClient(ctrl)
	plat := &fakePlatform{requestErr: errors.New("platform unavailable")}

	o := NewOrchestrator(plat, sched)
	_, err := o.RequestAndAwait(
		context.Background(),
		status.Retailer{ID: "r-1"},
		platform.OperationProducts,
		"query {}",
		status.SyncStyleFull,
		time.Minute,
		2,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to request products export")
}

func TestRequestAndAwaitTokenCreationFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	sched := mocks.NewMockClient(ctrl)
	plat := &fakePlatform{jobID: "job-4"}

	sched.EXPECT().
		CreateSuspendToken(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("scheduler down"))

	o := NewOrchestrator(plat, sched)
	_, err := o.RequestAndAwait(
		context.Background(),
		status.Retailer{ID: "r-1"},
		platform.OperationProducts,
		"query {}",
		status.SyncStyleFull,
		time.Minute,
		2,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suspend token")
}
