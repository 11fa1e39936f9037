package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cartfeed/catalog-sync-server/internal/monitor"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler/mocks"
	"github.com/cartfeed/catalog-sync-server/internal/state"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

type fakeJobScheduler struct {
	mu     sync.Mutex
	styles []status.SyncStyle
	err    error
}

func (f *fakeJobScheduler) Schedule(
	_ context.Context, _ string, style status.SyncStyle, _ string, _ *time.Duration,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.styles = append(f.styles, style)
	return "run-1", nil
}

func (*fakeJobScheduler) PartialDelay() time.Duration {
	return 30 * time.Minute
}

type runTaskCall struct {
	taskID  string
	runID   string
	payload string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls chan runTaskCall
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(chan runTaskCall, 1)}
}

func (f *fakeRunner) RunTask(_ context.Context, taskID, runID string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls <- runTaskCall{taskID: taskID, runID: runID, payload: string(payload)}
	return nil
}

type serverFixture struct {
	states   state.RetailerStateService
	jobSched *fakeJobScheduler
	sched    *mocks.MockClient
	runner   *fakeRunner
	server   *httptest.Server
}

func newFixture(t *testing.T) *serverFixture {
	t.Helper()

	states := state.NewMemoryStateService()
	states.(interface{ AddRetailer(status.Retailer) }).
		AddRetailer(status.Retailer{ID: "r-1", Domain: "shop.example.com"})

	jobSched := &fakeJobScheduler{}
	sched := mocks.NewMockClient(gomock.NewController(t))
	runner := newFakeRunner()

	router := NewServer(states, jobSched, sched, runner)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &serverFixture{
		states:   states,
		jobSched: jobSched,
		sched:    sched,
		runner:   runner,
		server:   server,
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSyncState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/v1/retailers/r-1/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st status.RetailerSyncState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "r-1", st.RetailerID)
	assert.Equal(t, status.RetailerStatusActive, st.Status)
}

func TestGetSyncStateNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/v1/retailers/missing/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/v1/retailers/r-1/sync", "application/json",
		strings.NewReader(`{"style":"full"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, []status.SyncStyle{status.SyncStyleFull}, f.jobSched.styles)
}

func TestTriggerSyncValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"invalid style", "/v1/retailers/r-1/sync", `{"style":"weekly"}`, http.StatusBadRequest},
		{"missing style", "/v1/retailers/r-1/sync", `{}`, http.StatusBadRequest},
		{"malformed body", "/v1/retailers/r-1/sync", `{`, http.StatusBadRequest},
		{"unknown retailer", "/v1/retailers/missing/sync", `{"style":"partial"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			resp, err := http.Post(f.server.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Empty(t, f.jobSched.styles)
		})
	}
}

func TestTriggerSyncSchedulerFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.jobSched.err = errors.New("scheduler down")

	resp, err := http.Post(f.server.URL+"/v1/retailers/r-1/sync", "application/json",
		strings.NewReader(`{"style":"partial"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTriggerRecoverySweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sched.EXPECT().
		Trigger(gomock.Any(), monitor.TaskRecoverySweep, nil, scheduler.TriggerOptions{}).
		Return("sweep-1", nil)

	resp, err := http.Post(f.server.URL+"/v1/recovery/sweep", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sweep-1", body["runId"])
}

func TestExecuteTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/v1/tasks/retailer-sync/runs/run-5", "application/json",
		strings.NewReader(`{"retailerId":"r-1","style":"full"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case call := <-f.runner.calls:
		assert.Equal(t, "retailer-sync", call.taskID)
		assert.Equal(t, "run-5", call.runID)
		assert.JSONEq(t, `{"retailerId":"r-1","style":"full"}`, call.payload)
	case <-time.After(time.Second):
		t.Fatal("task runner was not invoked")
	}
}
