package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCatalog(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.CreateSuite(ctx, &domain.TestSuite{ID: "smoke", Name: "Smoke", Category: "smoke", Enabled: true, CreatedAt: now}); err != nil {
		t.Fatalf("CreateSuite failed: %v", err)
	}
	for i, id := range []string{"c1", "c2", "c3"} {
		tc := &domain.TestCase{
			ID: id, SuiteID: "smoke", Name: id, Priority: domain.PriorityMedium, Timeout: 30,
			Status: domain.CaseStatusActive, CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}
		if err := store.CreateCase(ctx, tc); err != nil {
			t.Fatalf("CreateCase failed: %v", err)
		}
	}
}

func newRun(id string, created time.Time, caseIDs ...string) *domain.TestRun {
	return &domain.TestRun{
		ID:         id,
		Status:     domain.RunStatusPending,
		Trigger:    domain.TriggerManual,
		CaseIDs:    caseIDs,
		Owner:      "alice",
		TotalTests: len(caseIDs),
		CreatedAt:  created,
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := newRun("run_1", time.Now().UTC(), "c1", "c2")
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"c1", "c2"}, got.CaseIDs)
	assert.Equal(t, domain.RunStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, store.MarkRunStarted(ctx, "run_1", time.Now()))
	got, err = store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, store.CompleteRun(ctx, "run_1", domain.RunStatusCancelled, "", time.Now()))
	got, err = store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	err = store.CompleteRun(ctx, "run_1", domain.RunStatusCompleted, "", time.Now())
	assert.True(t, domain.IsKind(err, domain.KindState), "expected state error, got %v", err)

	missing, err := store.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteStoreInsertResultCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, newRun("run_1", time.Now().UTC(), "c1", "c2", "c3")))

	for i, o := range []domain.Outcome{domain.OutcomeFail, domain.OutcomePass} {
		caseID := []string{"c2", "c1"}[i]
		res := &domain.TestResult{
			RunID: "run_1", CaseID: caseID, Position: 1 - i, Outcome: o,
			DurationMs: 15, Attempts: 1, RecordedAt: time.Now(),
		}
		require.NoError(t, store.InsertResult(ctx, res, nil))
	}

	dup := &domain.TestResult{RunID: "run_1", CaseID: "c1", Outcome: domain.OutcomePass, Attempts: 1, RecordedAt: time.Now()}
	err := store.InsertResult(ctx, dup, nil)
	assert.True(t, domain.IsKind(err, domain.KindConflict), "expected conflict, got %v", err)

	run, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Recorded())

	results, err := store.ListResults(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].CaseID)
	assert.Equal(t, "c2", results[1].CaseID)
	assert.Equal(t, 15*time.Millisecond, results[1].Duration())

	res, err := store.GetResult(ctx, "run_1", "c3")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSQLiteStoreInsertFinalResultCompletesRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, newRun("run_1", time.Now().UTC(), "c1")))
	require.NoError(t, store.CreateRun(ctx, newRun("run_2", time.Now().UTC(), "c1")))

	recorded := time.Now().UTC().Truncate(time.Millisecond)
	final := domain.RunStatusFailed
	require.NoError(t, store.InsertResult(ctx, &domain.TestResult{
		RunID: "run_1", CaseID: "c1", Outcome: domain.OutcomeFail, Attempts: 1, RecordedAt: recorded,
	}, &final))

	run, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Failed)
	require.NotNil(t, run.CompletedAt)
	assert.True(t, recorded.Equal(*run.CompletedAt))

	// The result is rolled back when the run is no longer active.
	require.NoError(t, store.CompleteRun(ctx, "run_2", domain.RunStatusCancelled, "", time.Now()))
	completed := domain.RunStatusCompleted
	err = store.InsertResult(ctx, &domain.TestResult{
		RunID: "run_2", CaseID: "c1", Outcome: domain.OutcomePass, Attempts: 1, RecordedAt: time.Now(),
	}, &completed)
	assert.True(t, domain.IsKind(err, domain.KindState), "expected state error, got %v", err)

	res, err := store.GetResult(ctx, "run_2", "c1")
	require.NoError(t, err)
	assert.Nil(t, res)
	run, err = store.GetRun(ctx, "run_2")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	assert.Zero(t, run.Passed)
}

func TestSQLiteStoreIterRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Now().UTC()
	require.NoError(t, store.CreateRun(ctx, newRun("run_a", base, "c1")))
	require.NoError(t, store.CreateRun(ctx, newRun("run_b", base.Add(time.Second), "c1")))
	// Same timestamp as run_b; insertion order breaks the tie.
	require.NoError(t, store.CreateRun(ctx, newRun("run_c", base.Add(time.Second), "c1")))

	var ids []string
	for run, err := range store.IterRuns(ctx, domain.RunFilter{}) {
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	assert.Equal(t, []string{"run_c", "run_b", "run_a"}, ids)

	ids = nil
	for run, err := range store.IterRuns(ctx, domain.RunFilter{}) {
		require.NoError(t, err)
		ids = append(ids, run.ID)
		if len(ids) == 1 {
			break
		}
	}
	assert.Equal(t, []string{"run_c"}, ids)

	require.NoError(t, store.CompleteRun(ctx, "run_a", domain.RunStatusCompleted, "", time.Now()))
	ids = nil
	for run, err := range store.IterRuns(ctx, domain.RunFilter{Status: domain.RunStatusCompleted}) {
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	assert.Equal(t, []string{"run_a"}, ids)

	active, err := store.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "run_b", active[0].ID)
}

func TestSQLiteStoreCatalog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedCatalog(t, store)

	err := store.CreateSuite(ctx, &domain.TestSuite{ID: "smoke", Name: "again", CreatedAt: time.Now()})
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	suite, err := store.GetSuite(ctx, "smoke")
	require.NoError(t, err)
	require.NotNil(t, suite)
	assert.Equal(t, 3, suite.TestCount)

	ids, err := store.ListSuiteCaseIDs(ctx, "smoke")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)

	found, err := store.GetCases(ctx, []string{"c1", "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "c1")

	tc, err := store.GetCase(ctx, "c2")
	require.NoError(t, err)
	tc.Status = domain.CaseStatusDeprecated
	tc.UpdatedAt = time.Now()
	require.NoError(t, store.UpdateCase(ctx, tc))

	deprecated, err := store.ListCases(ctx, domain.CaseFilter{Status: domain.CaseStatusDeprecated})
	require.NoError(t, err)
	require.Len(t, deprecated, 1)
	assert.Equal(t, "c2", deprecated[0].ID)

	deleted, err := store.DeleteCase(ctx, "c3")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteCase(ctx, "c3")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSQLiteStoreUsersAndSettings(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := &domain.User{Username: "alice", Email: "a@example.com", HashedPassword: "x", IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)

	dup := &domain.User{Username: "alice", Email: "other@example.com", HashedPassword: "x", CreatedAt: time.Now()}
	assert.True(t, domain.IsKind(store.CreateUser(ctx, dup), domain.KindConflict))

	require.NoError(t, store.TouchLastLogin(ctx, user.ID))
	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.LastLogin)
	assert.True(t, got.IsActive)

	st, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	saved := domain.DefaultSettings()
	saved.AIOpsURL = "http://aiops:9000"
	saved.RetryFailed = true
	require.NoError(t, store.SaveSettings(ctx, saved))
	saved.MaxParallel = 2
	require.NoError(t, store.SaveSettings(ctx, saved))

	st, err = store.GetSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "http://aiops:9000", st.AIOpsURL)
	assert.Equal(t, 2, st.MaxParallel)
	assert.True(t, st.RetryFailed)
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, newRun("run_1", time.Now().UTC(), "c1")))

	for i, typ := range []domain.EventType{domain.EventTypeRunCreated, domain.EventTypeResultRecorded} {
		ev := &domain.RunEvent{
			EventID: []string{"e1", "e2"}[i], RunID: "run_1", Ts: int64(100 + i),
			Type: typ, Payload: json.RawMessage(`{"n":1}`),
		}
		require.NoError(t, store.CreateEvent(ctx, ev))
	}

	events, err := store.GetEvents(ctx, "run_1", 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Payload))

	events, err = store.GetEvents(ctx, "run_1", 100, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeResultRecorded, events[0].Type)

	events, err = store.GetEvents(ctx, "run_1", 0, []string{string(domain.EventTypeRunCreated)}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
