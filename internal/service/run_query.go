package service

import (
	"context"
	"iter"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// GetRun returns a run by id.
func (c *Coordinator) GetRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	return c.getRun(ctx, runID)
}

func (c *Coordinator) getRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.NotFoundf("test run %s not found", runID)
	}
	return run, nil
}

// ListRuns returns a lazy, newest-first sequence of runs matching filter.
// The caller must not touch the store while iterating.
func (c *Coordinator) ListRuns(ctx context.Context, filter domain.RunFilter) (iter.Seq2[*domain.TestRun, error], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Validationf("invalid status %q", filter.Status)
	}
	if filter.Trigger != "" && !filter.Trigger.Valid() {
		return nil, domain.Validationf("invalid trigger %q", filter.Trigger)
	}
	if filter.Limit < 0 {
		return nil, domain.Validationf("limit must not be negative")
	}
	return c.store.IterRuns(ctx, filter), nil
}

// GetResults returns the results of a run in case order.
func (c *Coordinator) GetResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	if _, err := c.getRun(ctx, runID); err != nil {
		return nil, err
	}
	return c.store.ListResults(ctx, runID)
}
