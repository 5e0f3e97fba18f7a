package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateRun validates and stores a new pending run and enqueues it for execution.
func (c *Coordinator) CreateRun(ctx context.Context, spec domain.RunSpec, user *domain.User) (*domain.TestRun, error) {
	if user == nil {
		return nil, domain.Unauthorizedf("not authenticated")
	}
	trigger := spec.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	if !trigger.Valid() {
		return nil, domain.Validationf("invalid trigger %q", trigger)
	}

	caseIDs, err := c.resolveCases(ctx, spec)
	if err != nil {
		return nil, err
	}

	run := &domain.TestRun{
		ID:         "run_" + uuid.New().String()[:8],
		Status:     domain.RunStatusPending,
		Trigger:    trigger,
		CaseIDs:    caseIDs,
		SuiteID:    spec.SuiteID,
		Owner:      user.Username,
		TotalTests: len(caseIDs),
		CreatedAt:  c.now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	c.metrics.RunCreated(trigger)
	c.recordEvent(ctx, run.ID, domain.EventTypeRunCreated, run)
	c.logger.Info("run created",
		zap.String("run_id", run.ID), zap.String("owner", run.Owner), zap.Int("total_tests", run.TotalTests))

	if !c.enqueue(run.ID) {
		c.failQueued(ctx, run.ID)
		return nil, domain.Unavailablef("%s, run %s was not scheduled", errQueueFull, run.ID)
	}
	return run, nil
}

// resolveCases turns a run request into its ordered, de-duplicated case list.
func (c *Coordinator) resolveCases(ctx context.Context, spec domain.RunSpec) ([]string, error) {
	switch {
	case len(spec.CaseIDs) == 0 && spec.SuiteID == "":
		return nil, domain.Validationf("either case_ids or suite_id is required")
	case len(spec.CaseIDs) > 0 && spec.SuiteID != "":
		return nil, domain.Validationf("case_ids and suite_id are mutually exclusive")
	}

	if spec.SuiteID != "" {
		suite, err := c.store.GetSuite(ctx, spec.SuiteID)
		if err != nil {
			return nil, err
		}
		if suite == nil {
			return nil, domain.NotFoundf("test suite %s not found", spec.SuiteID)
		}
		ids, err := c.store.ListSuiteCaseIDs(ctx, spec.SuiteID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, domain.Validationf("test suite %s has no test cases", spec.SuiteID)
		}
		return ids, nil
	}

	seen := make(map[string]bool, len(spec.CaseIDs))
	ids := make([]string, 0, len(spec.CaseIDs))
	for _, id := range spec.CaseIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, domain.Validationf("case ids must not be empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	found, err := c.store.GetCases(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, domain.Validationf("unknown test cases: %s", strings.Join(missing, ", "))
	}
	return ids, nil
}

// failQueued marks a run that could not be queued as failed.
func (c *Coordinator) failQueued(ctx context.Context, runID string) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	if err := c.store.CompleteRun(ctx, runID, domain.RunStatusFailed, errQueueFull, c.now()); err != nil {
		c.logger.Error("failed to mark unscheduled run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	c.metrics.RunFinished(domain.RunStatusFailed)
	c.recordEvent(ctx, runID, domain.EventTypeRunFailed, map[string]string{"error_detail": errQueueFull})
	c.logger.Warn("execution queue full, run failed", zap.String("run_id", runID))
}

// StartRun moves a pending run to running. It is a no-op for a running run.
func (c *Coordinator) StartRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	run, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, domain.Statef("run %s is already %s", runID, run.Status)
	}
	if run.Status == domain.RunStatusPending {
		if err := c.markStarted(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// markStarted moves run from pending to running. Caller holds the run lock.
func (c *Coordinator) markStarted(ctx context.Context, run *domain.TestRun) error {
	started := c.now().UTC()
	if err := c.store.MarkRunStarted(ctx, run.ID, started); err != nil {
		return err
	}
	run.Status = domain.RunStatusRunning
	run.StartedAt = &started
	c.recordEvent(ctx, run.ID, domain.EventTypeRunStarted, map[string]interface{}{"started_at": started})
	return nil
}

// RecordResult stores the result of one case. The last expected result
// completes the run: failed if any case failed or errored, completed otherwise.
func (c *Coordinator) RecordResult(ctx context.Context, in domain.ResultInput) (*domain.TestResult, error) {
	if !in.Outcome.Valid() {
		return nil, domain.Validationf("invalid outcome %q", in.Outcome)
	}

	unlock := c.locks.Lock(in.RunID)
	defer unlock()

	run, err := c.getRun(ctx, in.RunID)
	if err != nil {
		return nil, err
	}
	position := run.Position(in.CaseID)
	if position < 0 {
		return nil, domain.Validationf("case %s is not part of run %s", in.CaseID, in.RunID)
	}
	existing, err := c.store.GetResult(ctx, in.RunID, in.CaseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.Conflictf("result for case %s already recorded in run %s", in.CaseID, in.RunID)
	}
	if run.Status.Terminal() {
		c.metrics.LateResultRejected()
		return nil, domain.Statef("run %s is already %s", in.RunID, run.Status)
	}

	if run.Status == domain.RunStatusPending {
		if err := c.markStarted(ctx, run); err != nil {
			return nil, err
		}
	}

	attempts := in.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	result := &domain.TestResult{
		RunID:       in.RunID,
		CaseID:      in.CaseID,
		Position:    position,
		Outcome:     in.Outcome,
		DurationMs:  in.Duration.Milliseconds(),
		ErrorDetail: in.ErrorDetail,
		Attempts:    attempts,
		RecordedAt:  c.now().UTC(),
	}

	// The last expected result and the terminal transition commit together.
	settled := *run
	settled.Count(result.Outcome)
	var final *domain.RunStatus
	if settled.Recorded() >= settled.TotalTests {
		status := settled.FinalStatus()
		final = &status
	}
	if err := c.store.InsertResult(ctx, result, final); err != nil {
		return nil, err
	}
	c.metrics.ResultRecorded(result.Outcome)
	c.recordEvent(ctx, run.ID, domain.EventTypeResultRecorded, result)

	if final != nil {
		settled.Status = *final
		settled.CompletedAt = &result.RecordedAt
		c.finish(ctx, &settled)
	}
	return result, nil
}

// SettleRun completes an active run whose results are all recorded.
// Other runs are returned unchanged.
func (c *Coordinator) SettleRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	run, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() || run.Recorded() < run.TotalTests {
		return run, nil
	}
	completed := c.now().UTC()
	status := run.FinalStatus()
	if err := c.store.CompleteRun(ctx, run.ID, status, "", completed); err != nil {
		return nil, err
	}
	run.Status = status
	run.CompletedAt = &completed
	c.finish(ctx, run)
	return run, nil
}

// finish announces a run that reached completed or failed.
func (c *Coordinator) finish(ctx context.Context, run *domain.TestRun) {
	eventType := domain.EventTypeRunCompleted
	if run.Status == domain.RunStatusFailed {
		eventType = domain.EventTypeRunFailed
	}
	c.metrics.RunFinished(run.Status)
	c.recordEvent(ctx, run.ID, eventType, map[string]int{
		"passed": run.Passed, "failed": run.Failed, "errors": run.Errors, "skipped": run.Skipped,
	})
	c.release(run.ID)
	c.logger.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
}

// CancelRun cancels a pending or running run. Only its owner or an admin may do so.
// In-flight executions of the run are aborted through its context.
func (c *Coordinator) CancelRun(ctx context.Context, runID string, user *domain.User) (*domain.TestRun, error) {
	unlock := c.locks.Lock(runID)
	defer unlock()

	run, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	allowed, err := c.authz.Allow(ctx, user, authz.ActionRunCancel, authz.Resource{Owner: run.Owner})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.Forbiddenf("not allowed to cancel run %s", runID)
	}
	if run.Status.Terminal() {
		return nil, domain.Statef("run %s is already %s", runID, run.Status)
	}

	if err := c.store.CompleteRun(ctx, runID, domain.RunStatusCancelled, "", c.now()); err != nil {
		return nil, err
	}
	c.release(runID)
	c.metrics.RunFinished(domain.RunStatusCancelled)
	c.recordEvent(ctx, runID, domain.EventTypeRunCancelled, map[string]string{"cancelled_by": user.Username})
	c.logger.Info("run cancelled", zap.String("run_id", runID), zap.String("by", user.Username))

	return c.getRun(ctx, runID)
}

// RecoverRuns re-enqueues every pending or running run. It returns how many were queued.
func (c *Coordinator) RecoverRuns(ctx context.Context) (int, error) {
	runs, err := c.store.ListActiveRuns(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, run := range runs {
		if !c.enqueue(run.ID) {
			c.failQueued(ctx, run.ID)
			continue
		}
		queued++
	}
	if queued > 0 {
		c.logger.Info("recovered runs", zap.Int("count", queued))
	}
	return queued, nil
}
