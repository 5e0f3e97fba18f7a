package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
	"github.com/xiaot623/gogo/testmgmt/tests/helpers"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.RunEvent
}

func (p *recordingPublisher) Publish(event *domain.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types(runID string) []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventType
	for _, e := range p.events {
		if e.RunID == runID {
			out = append(out, e.Type)
		}
	}
	return out
}

type coordinatorFixture struct {
	coord *Coordinator
	store *repository.SQLiteStore
	pub   *recordingPublisher
	alice *domain.User
	bob   *domain.User
	admin *domain.User
}

func newCoordinatorFixture(t *testing.T, queueSize int) *coordinatorFixture {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	pub := &recordingPublisher{}
	coord := NewCoordinator(store, helpers.NewTestAuthorizer(t), pub, nil, zap.NewNop(), queueSize)
	t.Cleanup(coord.Close)

	helpers.SeedSuite(t, store, "SUITE-A", "TC-1", "TC-2")
	require.NoError(t, store.CreateSuite(context.Background(), &domain.TestSuite{ID: "SUITE-EMPTY", Name: "empty", CreatedAt: time.Now()}))

	return &coordinatorFixture{
		coord: coord,
		store: store,
		pub:   pub,
		alice: helpers.CreateUser(t, store, "alice", false),
		bob:   helpers.CreateUser(t, store, "bob", false),
		admin: helpers.CreateUser(t, store, "root", true),
	}
}

func (f *coordinatorFixture) createRun(t *testing.T, caseIDs ...string) *domain.TestRun {
	t.Helper()
	run, err := f.coord.CreateRun(context.Background(), domain.RunSpec{CaseIDs: caseIDs}, f.alice)
	require.NoError(t, err)
	return run
}

func (f *coordinatorFixture) record(t *testing.T, runID, caseID string, o domain.Outcome) error {
	t.Helper()
	_, err := f.coord.RecordResult(context.Background(), domain.ResultInput{
		RunID: runID, CaseID: caseID, Outcome: o, Duration: 10 * time.Millisecond,
	})
	return err
}

func TestCreateRunIsPendingAndQueued(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	run := f.createRun(t, "TC-1", "TC-2")
	assert.Equal(t, domain.RunStatusPending, run.Status)
	assert.Equal(t, domain.TriggerManual, run.Trigger)
	assert.Equal(t, "alice", run.Owner)
	assert.Equal(t, 2, run.TotalTests)

	got, err := f.coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, got.Status)

	results, err := f.coord.GetResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	select {
	case job := <-f.coord.Jobs():
		assert.Equal(t, run.ID, job.RunID)
		assert.NoError(t, job.Ctx.Err())
	default:
		t.Fatal("expected run to be queued")
	}
}

func TestCreateRunValidation(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	tests := []struct {
		name string
		spec domain.RunSpec
		kind domain.ErrorKind
	}{
		{"empty request", domain.RunSpec{}, domain.KindValidation},
		{"both inputs", domain.RunSpec{CaseIDs: []string{"TC-1"}, SuiteID: "SUITE-A"}, domain.KindValidation},
		{"unknown suite", domain.RunSpec{SuiteID: "SUITE-X"}, domain.KindNotFound},
		{"empty suite", domain.RunSpec{SuiteID: "SUITE-EMPTY"}, domain.KindValidation},
		{"unknown case", domain.RunSpec{CaseIDs: []string{"TC-1", "TC-404"}}, domain.KindValidation},
		{"blank case", domain.RunSpec{CaseIDs: []string{" "}}, domain.KindValidation},
		{"bad trigger", domain.RunSpec{CaseIDs: []string{"TC-1"}, Trigger: "cron"}, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := f.coord.CreateRun(ctx, tt.spec, f.alice)
			require.Error(t, err)
			assert.Nil(t, run)
			assert.Equal(t, tt.kind, domain.KindOf(err), "error: %v", err)
		})
	}

	_, err := f.coord.CreateRun(ctx, domain.RunSpec{CaseIDs: []string{"TC-404"}}, f.alice)
	assert.Contains(t, domain.MessageOf(err), "TC-404")
}

func TestCreateRunFromSuiteAndDedupe(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	run, err := f.coord.CreateRun(ctx, domain.RunSpec{SuiteID: "SUITE-A", Trigger: domain.TriggerScheduled}, f.alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"TC-1", "TC-2"}, run.CaseIDs)
	assert.Equal(t, "SUITE-A", run.SuiteID)
	assert.Equal(t, domain.TriggerScheduled, run.Trigger)

	run = f.createRun(t, "TC-2", "TC-1", "TC-2")
	assert.Equal(t, []string{"TC-2", "TC-1"}, run.CaseIDs)
	assert.Equal(t, 2, run.TotalTests)
}

func TestRecordResultCompletesRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	run := f.createRun(t, "TC-1", "TC-2")
	require.NoError(t, f.record(t, run.ID, "TC-1", domain.OutcomePass))

	got, err := f.coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, f.record(t, run.ID, "TC-2", domain.OutcomeSkipped))
	got, err = f.coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, got.Passed)
	assert.Equal(t, 1, got.Skipped)

	assert.Equal(t, []domain.EventType{
		domain.EventTypeRunCreated,
		domain.EventTypeRunStarted,
		domain.EventTypeResultRecorded,
		domain.EventTypeResultRecorded,
		domain.EventTypeRunCompleted,
	}, f.pub.types(run.ID))
}

func TestRecordResultFailureFailsRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	run := f.createRun(t, "TC-1", "TC-2")
	require.NoError(t, f.record(t, run.ID, "TC-1", domain.OutcomeFail))
	require.NoError(t, f.record(t, run.ID, "TC-2", domain.OutcomePass))

	got, err := f.coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)

	results, err := f.coord.GetResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "TC-1", results[0].CaseID)
	assert.Equal(t, domain.OutcomeFail, results[0].Outcome)
	assert.Equal(t, int64(10), results[0].DurationMs)
}

// flakyFinalStore fails the first write that would finish a run.
type flakyFinalStore struct {
	repository.Store
	failed bool
}

func (s *flakyFinalStore) InsertResult(ctx context.Context, result *domain.TestResult, final *domain.RunStatus) error {
	if final != nil && !s.failed {
		s.failed = true
		return errors.New("disk I/O error")
	}
	return s.Store.InsertResult(ctx, result, final)
}

func TestRecordResultFinalWriteIsAtomic(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()
	coord := NewCoordinator(&flakyFinalStore{Store: f.store}, helpers.NewTestAuthorizer(t), f.pub, nil, zap.NewNop(), 4)
	defer coord.Close()

	run, err := coord.CreateRun(ctx, domain.RunSpec{CaseIDs: []string{"TC-1"}}, f.alice)
	require.NoError(t, err)

	in := domain.ResultInput{RunID: run.ID, CaseID: "TC-1", Outcome: domain.OutcomePass}
	_, err = coord.RecordResult(ctx, in)
	require.Error(t, err)

	got, err := coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.Zero(t, got.Passed)
	res, err := f.store.GetResult(ctx, run.ID, "TC-1")
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = coord.RecordResult(ctx, in)
	require.NoError(t, err)
	got, err = coord.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Passed)
	assert.NotNil(t, got.CompletedAt)
	assert.Contains(t, f.pub.types(run.ID), domain.EventTypeRunCompleted)
}

func TestSettleRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()
	now := time.Now().UTC()

	// All results stored but the run left running, as after a crash.
	require.NoError(t, f.store.CreateRun(ctx, &domain.TestRun{
		ID: "run_settle", Status: domain.RunStatusRunning, Trigger: domain.TriggerManual,
		CaseIDs: []string{"TC-1", "TC-2"}, Owner: f.alice.Username, TotalTests: 2, CreatedAt: now, StartedAt: &now,
	}))
	for i, o := range []domain.Outcome{domain.OutcomePass, domain.OutcomeError} {
		require.NoError(t, f.store.InsertResult(ctx, &domain.TestResult{
			RunID: "run_settle", CaseID: []string{"TC-1", "TC-2"}[i], Position: i, Outcome: o, Attempts: 1, RecordedAt: now,
		}, nil))
	}

	run, err := f.coord.SettleRun(ctx, "run_settle")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	got, err := f.coord.GetRun(ctx, "run_settle")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, []domain.EventType{domain.EventTypeRunFailed}, f.pub.types("run_settle"))

	// A run still waiting for results is left alone.
	partial := f.createRun(t, "TC-1", "TC-2")
	require.NoError(t, f.record(t, partial.ID, "TC-1", domain.OutcomePass))
	run, err = f.coord.SettleRun(ctx, partial.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	_, err = f.coord.SettleRun(ctx, "run_missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "expected not found, got %v", err)
}

func TestReleasedRunCanBeQueuedAgain(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	run := f.createRun(t, "TC-1")
	job := <-f.coord.Jobs()
	require.Equal(t, run.ID, job.RunID)

	// While the job is held, recovery does not queue it twice.
	_, err := f.coord.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, f.coord.Jobs(), 0)

	f.coord.Release(run.ID)
	assert.Error(t, job.Ctx.Err())

	n, err := f.coord.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.coord.Jobs(), 1)
	assert.Equal(t, run.ID, (<-f.coord.Jobs()).RunID)
}

func TestRecordResultErrors(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()
	run := f.createRun(t, "TC-1", "TC-2")

	err := f.record(t, run.ID, "TC-1", "flaky")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	err = f.record(t, "run_missing", "TC-1", domain.OutcomePass)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	err = f.record(t, run.ID, "TC-9", domain.OutcomePass)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	require.NoError(t, f.record(t, run.ID, "TC-1", domain.OutcomePass))
	err = f.record(t, run.ID, "TC-1", domain.OutcomeFail)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	results, err := f.coord.GetResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomePass, results[0].Outcome, "first result must be kept")
}

func TestCancelRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()
	run := f.createRun(t, "TC-1", "TC-2")
	job := <-f.coord.Jobs()
	require.NoError(t, f.record(t, run.ID, "TC-1", domain.OutcomePass))

	_, err := f.coord.CancelRun(ctx, run.ID, f.bob)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = f.coord.CancelRun(ctx, "run_missing", f.alice)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	cancelled, err := f.coord.CancelRun(ctx, run.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
	assert.ErrorIs(t, job.Ctx.Err(), context.Canceled)

	_, err = f.coord.CancelRun(ctx, run.ID, f.alice)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	err = f.record(t, run.ID, "TC-2", domain.OutcomePass)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	// Duplicate is reported before the terminal state.
	err = f.record(t, run.ID, "TC-1", domain.OutcomePass)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	_, err = f.coord.StartRun(ctx, run.ID)
	assert.Equal(t, domain.KindState, domain.KindOf(err))
}

func TestAdminCancelsAnyRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	run := f.createRun(t, "TC-1")

	cancelled, err := f.coord.CancelRun(context.Background(), run.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, cancelled.Status)
}

func TestCancelCompletedRunIsStateError(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	run := f.createRun(t, "TC-1")
	require.NoError(t, f.record(t, run.ID, "TC-1", domain.OutcomePass))

	_, err := f.coord.CancelRun(context.Background(), run.ID, f.alice)
	assert.Equal(t, domain.KindState, domain.KindOf(err))
}

func TestStartRun(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()
	run := f.createRun(t, "TC-1")

	started, err := f.coord.StartRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, started.Status)
	firstStart := started.StartedAt

	again, err := f.coord.StartRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, again.Status)
	assert.WithinDuration(t, *firstStart, *again.StartedAt, time.Millisecond)

	_, err = f.coord.StartRun(ctx, "run_missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestQueueFullFailsRun(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	ctx := context.Background()

	first := f.createRun(t, "TC-1")
	_, err := f.coord.CreateRun(ctx, domain.RunSpec{CaseIDs: []string{"TC-2"}}, f.alice)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))

	var failed *domain.TestRun
	runs, err := f.coord.ListRuns(ctx, domain.RunFilter{Status: domain.RunStatusFailed})
	require.NoError(t, err)
	for run, err := range runs {
		require.NoError(t, err)
		failed = run
	}
	require.NotNil(t, failed)
	assert.NotEqual(t, first.ID, failed.ID)
	assert.Equal(t, "execution queue is full", failed.ErrorDetail)
	assert.NotNil(t, failed.CompletedAt)
}

func TestRecoverRuns(t *testing.T) {
	f := newCoordinatorFixture(t, 4)
	ctx := context.Background()

	pending := f.createRun(t, "TC-1")
	running := f.createRun(t, "TC-1", "TC-2")
	done := f.createRun(t, "TC-1")
	require.NoError(t, f.record(t, running.ID, "TC-1", domain.OutcomePass))
	require.NoError(t, f.record(t, done.ID, "TC-1", domain.OutcomePass))

	// Simulate a restart: a fresh coordinator over the same store.
	restarted := NewCoordinator(f.store, helpers.NewTestAuthorizer(t), nil, nil, zap.NewNop(), 4)
	defer restarted.Close()

	n, err := restarted.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for i := 0; i < n; i++ {
		ids = append(ids, (<-restarted.Jobs()).RunID)
	}
	assert.Equal(t, []string{pending.ID, running.ID}, ids)
}

func TestListRuns(t *testing.T) {
	f := newCoordinatorFixture(t, 8)
	ctx := context.Background()

	var created []string
	for i := 0; i < 3; i++ {
		created = append(created, f.createRun(t, "TC-1").ID)
	}
	apiRun, err := f.coord.CreateRun(ctx, domain.RunSpec{CaseIDs: []string{"TC-2"}, Trigger: domain.TriggerAPI}, f.bob)
	require.NoError(t, err)

	seq, err := f.coord.ListRuns(ctx, domain.RunFilter{})
	require.NoError(t, err)
	var all []string
	for run, err := range seq {
		require.NoError(t, err)
		all = append(all, run.ID)
	}
	assert.Equal(t, []string{apiRun.ID, created[2], created[1], created[0]}, all)

	seq, err = f.coord.ListRuns(ctx, domain.RunFilter{Trigger: domain.TriggerAPI})
	require.NoError(t, err)
	var filtered []string
	for run, err := range seq {
		require.NoError(t, err)
		filtered = append(filtered, run.ID)
	}
	assert.Equal(t, []string{apiRun.ID}, filtered)

	seq, err = f.coord.ListRuns(ctx, domain.RunFilter{Owner: "alice", Limit: 2})
	require.NoError(t, err)
	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)

	_, err = f.coord.ListRuns(ctx, domain.RunFilter{Status: "done"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.coord.ListRuns(ctx, domain.RunFilter{Trigger: "cron"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestConcurrentResultsAreSerialized(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	coord := NewCoordinator(store, helpers.NewTestAuthorizer(t), nil, nil, zap.NewNop(), 4)
	defer coord.Close()

	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("TC-%02d", i))
	}
	helpers.SeedSuite(t, store, "BIG", ids...)
	user := helpers.CreateUser(t, store, "alice", false)

	run, err := coord.CreateRun(context.Background(), domain.RunSpec{SuiteID: "BIG"}, user)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*2)
	for i, id := range ids {
		outcome := domain.OutcomePass
		if i == 7 {
			outcome = domain.OutcomeError
		}
		// Every case is reported twice; exactly one must win.
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id string, o domain.Outcome) {
				defer wg.Done()
				_, err := coord.RecordResult(context.Background(), domain.ResultInput{RunID: run.ID, CaseID: id, Outcome: o})
				errs <- err
			}(id, outcome)
		}
	}
	wg.Wait()
	close(errs)

	conflicts := 0
	for err := range errs {
		if err != nil {
			require.Equal(t, domain.KindConflict, domain.KindOf(err), "unexpected error: %v", err)
			conflicts++
		}
	}
	assert.Equal(t, len(ids), conflicts)

	got, err := coord.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, 19, got.Passed)
	assert.Equal(t, 1, got.Errors)
	assert.Equal(t, 0, coord.locks.Len())
}
