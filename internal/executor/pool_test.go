package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/adapter/aiops"
	"github.com/xiaot623/gogo/testmgmt/internal/auth"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
	"github.com/xiaot623/gogo/testmgmt/internal/service"
	"github.com/xiaot623/gogo/testmgmt/tests/helpers"
)

type executeFunc func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error)

type fakeTarget struct {
	fn       executeFunc
	mu       sync.Mutex
	calls    map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeTarget) Execute(ctx context.Context, target aiops.Target, req *aiops.ExecuteRequest) (*aiops.ExecuteResponse, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[req.CaseID]++
	call := f.calls[req.CaseID]
	f.mu.Unlock()

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return f.fn(ctx, req, call)
}

func (f *fakeTarget) callCount(caseID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[caseID]
}

func pass(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
	return &aiops.ExecuteResponse{Outcome: domain.OutcomePass, DurationMs: 5}, nil
}

type poolFixture struct {
	store  *repository.SQLiteStore
	coord  *service.Coordinator
	pool   *Pool
	target *fakeTarget
	user   *domain.User
}

func newPoolFixture(t *testing.T, settings *domain.Settings, fn executeFunc) *poolFixture {
	t.Helper()
	return newWrappedPoolFixture(t, settings, fn, nil)
}

// newWrappedPoolFixture lets wrap interpose on the coordinator the pool drives.
func newWrappedPoolFixture(t *testing.T, settings *domain.Settings, fn executeFunc, wrap func(*service.Coordinator) Coordinator) *poolFixture {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	authorizer := helpers.NewTestAuthorizer(t)
	logger := zap.NewNop()

	helpers.SeedSuite(t, store, "SUITE-A", "TC-1", "TC-2", "TC-3", "TC-4")
	if settings != nil {
		require.NoError(t, store.SaveSettings(context.Background(), settings))
	}

	coord := service.NewCoordinator(store, authorizer, nil, nil, logger, 16)
	svc := service.New(store, auth.NewManager("secret", time.Minute), authorizer, nil, logger)
	target := &fakeTarget{fn: fn}
	var driven Coordinator = coord
	if wrap != nil {
		driven = wrap(coord)
	}
	pool := New(driven, svc, target, Config{Workers: 2, RetryAttempts: 3, RetryBase: time.Millisecond}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		coord.Close()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		assert.NoError(t, pool.Stop(stopCtx))
		cancel()
	})

	return &poolFixture{store: store, coord: coord, pool: pool, target: target, user: helpers.CreateUser(t, store, "alice", false)}
}

func targetSettings() *domain.Settings {
	st := domain.DefaultSettings()
	st.AIOpsURL = "http://aiops.test"
	return st
}

func (f *poolFixture) submit(t *testing.T, caseIDs ...string) *domain.TestRun {
	t.Helper()
	run, err := f.coord.CreateRun(context.Background(), domain.RunSpec{CaseIDs: caseIDs}, f.user)
	require.NoError(t, err)
	return run
}

func (f *poolFixture) waitTerminal(t *testing.T, runID string) *domain.TestRun {
	t.Helper()
	var run *domain.TestRun
	require.Eventually(t, func() bool {
		got, err := f.coord.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func (f *poolFixture) results(t *testing.T, runID string) map[string]domain.TestResult {
	t.Helper()
	results, err := f.coord.GetResults(context.Background(), runID)
	require.NoError(t, err)
	out := make(map[string]domain.TestResult, len(results))
	for _, r := range results {
		out[r.CaseID] = r
	}
	return out
}

func TestPoolCompletesRun(t *testing.T) {
	f := newPoolFixture(t, targetSettings(), pass)

	run := f.submit(t, "TC-1", "TC-2")
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Passed)

	results := f.results(t, run.ID)
	assert.Equal(t, int64(5), results["TC-1"].DurationMs)
	assert.Equal(t, 1, results["TC-1"].Attempts)
}

func TestPoolWithoutTargetRecordsErrors(t *testing.T) {
	f := newPoolFixture(t, nil, pass)

	run := f.submit(t, "TC-1", "TC-2")
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusFailed, done.Status)
	assert.Equal(t, 2, done.Errors)
	assert.Equal(t, "execution target is not configured", f.results(t, run.ID)["TC-2"].ErrorDetail)
	assert.Zero(t, f.target.callCount("TC-1"))
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	f := newPoolFixture(t, targetSettings(), func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
		if req.CaseID == "TC-1" && call < 3 {
			return nil, &aiops.StatusError{StatusCode: http.StatusBadGateway}
		}
		if req.CaseID == "TC-2" {
			return nil, &aiops.StatusError{StatusCode: http.StatusServiceUnavailable, Body: "down"}
		}
		return pass(ctx, req, call)
	})

	run := f.submit(t, "TC-1", "TC-2")
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusFailed, done.Status)

	results := f.results(t, run.ID)
	assert.Equal(t, domain.OutcomePass, results["TC-1"].Outcome)
	assert.Equal(t, 3, results["TC-1"].Attempts)

	assert.Equal(t, domain.OutcomeError, results["TC-2"].Outcome)
	assert.Contains(t, results["TC-2"].ErrorDetail, "503")
	assert.Equal(t, 3, f.target.callCount("TC-2"), "retries must be bounded")
}

func TestPoolDoesNotRetryPermanentFailures(t *testing.T) {
	f := newPoolFixture(t, targetSettings(), func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
		return nil, &aiops.StatusError{StatusCode: http.StatusUnauthorized}
	})

	run := f.submit(t, "TC-1")
	f.waitTerminal(t, run.ID)
	assert.Equal(t, 1, f.target.callCount("TC-1"))
}

func TestPoolRetryFailedSetting(t *testing.T) {
	st := targetSettings()
	st.RetryFailed = true
	st.RetryCount = 2
	f := newPoolFixture(t, st, func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
		if req.CaseID == "TC-1" && call == 1 {
			return &aiops.ExecuteResponse{Outcome: domain.OutcomeFail, Error: "flaky"}, nil
		}
		if req.CaseID == "TC-2" {
			return &aiops.ExecuteResponse{Outcome: domain.OutcomeFail, Error: "broken"}, nil
		}
		return pass(ctx, req, call)
	})

	run := f.submit(t, "TC-1", "TC-2")
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusFailed, done.Status)

	results := f.results(t, run.ID)
	assert.Equal(t, domain.OutcomePass, results["TC-1"].Outcome)
	assert.Equal(t, 2, results["TC-1"].Attempts)
	assert.Equal(t, domain.OutcomeFail, results["TC-2"].Outcome)
	assert.Equal(t, 3, results["TC-2"].Attempts)
	assert.Equal(t, "broken", results["TC-2"].ErrorDetail)
}

func TestPoolParallelExecutionRespectsLimit(t *testing.T) {
	st := targetSettings()
	st.ParallelExecution = true
	st.MaxParallel = 2
	f := newPoolFixture(t, st, func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return pass(ctx, req, call)
	})

	run := f.submit(t, "TC-1", "TC-2", "TC-3", "TC-4")
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.LessOrEqual(t, f.target.peak.Load(), int32(2))
}

func TestPoolCancelAbortsInFlightExecution(t *testing.T) {
	started := make(chan struct{}, 1)
	aborted := make(chan error, 1)
	f := newPoolFixture(t, targetSettings(), func(ctx context.Context, req *aiops.ExecuteRequest, call int) (*aiops.ExecuteResponse, error) {
		started <- struct{}{}
		<-ctx.Done()
		aborted <- ctx.Err()
		return nil, ctx.Err()
	})

	run := f.submit(t, "TC-1", "TC-2")
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never started")
	}

	cancelled, err := f.coord.CancelRun(context.Background(), run.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, cancelled.Status)

	select {
	case err := <-aborted:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight execution was not aborted")
	}

	// Let the worker finish, then make sure nothing else ran or was recorded.
	f.coord.Close()
	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, f.pool.Stop(stopCtx))

	assert.Zero(t, f.target.callCount("TC-2"))
	assert.Empty(t, f.results(t, run.ID))
	got, err := f.coord.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, got.Status)
}

func TestPoolResumesRecoveredRun(t *testing.T) {
	f := newPoolFixture(t, targetSettings(), pass)
	ctx := context.Background()
	now := time.Now().UTC()

	// A run interrupted by a restart, with one result already recorded.
	require.NoError(t, f.store.CreateRun(ctx, &domain.TestRun{
		ID:         "run_recover",
		Status:     domain.RunStatusRunning,
		Trigger:    domain.TriggerManual,
		CaseIDs:    []string{"TC-1", "TC-2"},
		Owner:      f.user.Username,
		TotalTests: 2,
		CreatedAt:  now,
		StartedAt:  &now,
	}))
	require.NoError(t, f.store.InsertResult(ctx, &domain.TestResult{
		RunID: "run_recover", CaseID: "TC-1", Position: 0, Outcome: domain.OutcomePass, Attempts: 1, RecordedAt: now,
	}, nil))

	queued, err := f.coord.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	done := f.waitTerminal(t, "run_recover")
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Passed)
	assert.Zero(t, f.target.callCount("TC-1"))
	assert.Equal(t, 1, f.target.callCount("TC-2"))
}

func TestPoolSettlesFullyRecordedRun(t *testing.T) {
	f := newPoolFixture(t, targetSettings(), pass)
	ctx := context.Background()
	now := time.Now().UTC()

	// Every result was stored before a restart but the run never finished.
	require.NoError(t, f.store.CreateRun(ctx, &domain.TestRun{
		ID:         "run_settled",
		Status:     domain.RunStatusRunning,
		Trigger:    domain.TriggerManual,
		CaseIDs:    []string{"TC-1"},
		Owner:      f.user.Username,
		TotalTests: 1,
		CreatedAt:  now,
		StartedAt:  &now,
	}))
	require.NoError(t, f.store.InsertResult(ctx, &domain.TestResult{
		RunID: "run_settled", CaseID: "TC-1", Position: 0, Outcome: domain.OutcomePass, Attempts: 1, RecordedAt: now,
	}, nil))

	queued, err := f.coord.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	done := f.waitTerminal(t, "run_settled")
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.Equal(t, 1, done.Passed)
	assert.Zero(t, f.target.callCount("TC-1"))
}

// flakyResultsCoordinator fails the first GetResults and reports releases.
type flakyResultsCoordinator struct {
	*service.Coordinator
	failed   atomic.Bool
	released chan string
}

func (c *flakyResultsCoordinator) GetResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	if c.failed.CompareAndSwap(false, true) {
		return nil, errors.New("database is locked")
	}
	return c.Coordinator.GetResults(ctx, runID)
}

func (c *flakyResultsCoordinator) Release(runID string) {
	c.Coordinator.Release(runID)
	c.released <- runID
}

func TestPoolReleasesRunAfterEarlyExit(t *testing.T) {
	flaky := &flakyResultsCoordinator{released: make(chan string, 4)}
	f := newWrappedPoolFixture(t, targetSettings(), pass, func(c *service.Coordinator) Coordinator {
		flaky.Coordinator = c
		return flaky
	})
	ctx := context.Background()

	run := f.submit(t, "TC-1")
	select {
	case id := <-flaky.released:
		assert.Equal(t, run.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not released")
	}
	got, err := f.coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)

	queued, err := f.coord.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	done := f.waitTerminal(t, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
	assert.Equal(t, 1, f.target.callCount("TC-1"))
}
