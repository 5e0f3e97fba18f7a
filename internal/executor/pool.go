// Package executor runs queued test runs against the remote execution target.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/testmgmt/internal/adapter/aiops"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/metrics"
	"github.com/xiaot623/gogo/testmgmt/internal/service"
)

// Coordinator is the part of the run coordinator the pool drives.
type Coordinator interface {
	Jobs() <-chan service.Job
	Dequeued()
	StartRun(ctx context.Context, runID string) (*domain.TestRun, error)
	GetResults(ctx context.Context, runID string) ([]domain.TestResult, error)
	RecordResult(ctx context.Context, in domain.ResultInput) (*domain.TestResult, error)
	SettleRun(ctx context.Context, runID string) (*domain.TestRun, error)
	Release(runID string)
}

// Catalog supplies case definitions and execution settings.
type Catalog interface {
	GetSettings(ctx context.Context) (*domain.Settings, error)
	GetTestCase(ctx context.Context, caseID string) (*domain.TestCase, error)
}

// Target executes one case remotely.
type Target interface {
	Execute(ctx context.Context, target aiops.Target, req *aiops.ExecuteRequest) (*aiops.ExecuteResponse, error)
}

// Config tunes the pool.
type Config struct {
	Workers int
	// RetryAttempts bounds the calls made for one execution when the target fails transiently.
	RetryAttempts int
	RetryBase     time.Duration
}

const errNotConfigured = "execution target is not configured"

// Pool is a fixed set of workers consuming the coordinator's queue.
type Pool struct {
	coord   Coordinator
	catalog Catalog
	target  Target
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a worker pool.
func New(coord Coordinator, catalog Catalog, target Target, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Pool{
		coord:   coord,
		catalog: catalog,
		target:  target,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(zap.String("component", "executor")),
	}
}

// Start launches the workers. They exit when the queue is closed or ctx is done.
func (p *Pool) Start(ctx context.Context) {
	jobs := p.coord.Jobs()
	for range p.cfg.Workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					p.coord.Dequeued()
					p.runJob(job)
				}
			}
		}()
	}
	p.logger.Info("executor started", zap.Int("workers", p.cfg.Workers))
}

// Stop waits for the workers to finish or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob executes the remaining cases of one run.
// Store and coordinator calls use a context detached from cancellation;
// remote calls use job.Ctx so cancelling the run aborts them.
func (p *Pool) runJob(job service.Job) {
	defer p.coord.Release(job.RunID)
	if job.Ctx.Err() != nil {
		return
	}
	ctx := context.WithoutCancel(job.Ctx)
	logger := p.logger.With(zap.String("run_id", job.RunID))
	defer p.settle(ctx, logger, job)

	run, err := p.coord.StartRun(ctx, job.RunID)
	if err != nil {
		logger.Info("run not started", zap.Error(err))
		return
	}
	results, err := p.coord.GetResults(ctx, job.RunID)
	if err != nil {
		logger.Error("failed to load results, run left active", zap.Error(err))
		return
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.CaseID] = true
	}
	var remaining []string
	for _, id := range run.CaseIDs {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}

	settings, err := p.catalog.GetSettings(ctx)
	if err != nil {
		p.failAll(ctx, logger, job.RunID, remaining, fmt.Sprintf("failed to load settings: %v", err))
		return
	}
	if settings.AIOpsURL == "" {
		p.failAll(ctx, logger, job.RunID, remaining, errNotConfigured)
		return
	}

	limit := 1
	if settings.ParallelExecution && settings.MaxParallel > 1 {
		limit = settings.MaxParallel
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, caseID := range remaining {
		if job.Ctx.Err() != nil {
			logger.Info("run cancelled, stopping dispatch")
			break
		}
		g.Go(func() error {
			p.runCase(ctx, job, logger, settings, caseID)
			return nil
		})
	}
	g.Wait()
}

// settle completes a run whose results were all recorded without the last
// one finishing it, such as a run recovered after every case had reported.
// A run still short of results is logged; it resumes on the next enqueue.
func (p *Pool) settle(ctx context.Context, logger *zap.Logger, job service.Job) {
	if job.Ctx.Err() != nil {
		return
	}
	run, err := p.coord.SettleRun(ctx, job.RunID)
	switch {
	case err != nil:
		logger.Error("failed to settle run", zap.Error(err))
	case !run.Status.Terminal():
		logger.Warn("run left active", zap.Int("recorded", run.Recorded()), zap.Int("total", run.TotalTests))
	}
}

func (p *Pool) failAll(ctx context.Context, logger *zap.Logger, runID string, caseIDs []string, detail string) {
	logger.Warn("run cannot execute", zap.String("reason", detail))
	for _, id := range caseIDs {
		p.record(ctx, logger, domain.ResultInput{
			RunID: runID, CaseID: id, Outcome: domain.OutcomeError, ErrorDetail: detail,
		})
	}
}

// runCase executes one case, re-running it on fail when retry_failed is set.
func (p *Pool) runCase(ctx context.Context, job service.Job, logger *zap.Logger, settings *domain.Settings, caseID string) {
	if job.Ctx.Err() != nil {
		return
	}
	tc, err := p.catalog.GetTestCase(ctx, caseID)
	if err != nil {
		p.record(ctx, logger, domain.ResultInput{
			RunID: job.RunID, CaseID: caseID, Outcome: domain.OutcomeError,
			ErrorDetail: fmt.Sprintf("failed to load test case: %s", domain.MessageOf(err)),
		})
		return
	}

	timeout := tc.Timeout
	if timeout <= 0 {
		timeout = settings.Timeout
	}
	if timeout <= 0 {
		timeout = 30
	}
	req := &aiops.ExecuteRequest{
		RunID:        job.RunID,
		CaseID:       tc.ID,
		Name:         tc.Name,
		FilePath:     tc.FilePath,
		FunctionName: tc.FunctionName,
		Timeout:      timeout,
		TestPath:     settings.TestPath,
		SSHHost:      settings.SSHHost,
		SSHPort:      settings.SSHPort,
	}
	target := aiops.Target{BaseURL: settings.AIOpsURL, Token: settings.APIToken}

	maxRuns := 1
	if settings.RetryFailed && settings.RetryCount > 0 {
		maxRuns += settings.RetryCount
	}

	in := domain.ResultInput{RunID: job.RunID, CaseID: caseID}
	for run := 1; run <= maxRuns; run++ {
		start := time.Now()
		resp, tries, err := p.execute(job.Ctx, target, req, time.Duration(timeout)*time.Second)
		in.Attempts += tries
		if job.Ctx.Err() != nil {
			logger.Info("execution aborted, run cancelled", zap.String("case_id", caseID))
			return
		}
		if err != nil {
			in.Outcome = domain.OutcomeError
			in.ErrorDetail = err.Error()
			in.Duration = time.Since(start)
			if errors.Is(err, context.DeadlineExceeded) {
				in.ErrorDetail = fmt.Sprintf("execution timed out after %ds", timeout)
			}
			break
		}
		in.Outcome = resp.Outcome
		in.ErrorDetail = resp.Error
		in.Duration = time.Duration(resp.DurationMs) * time.Millisecond
		if resp.Outcome != domain.OutcomeFail {
			break
		}
	}
	p.record(ctx, logger, in)
}

// execute calls the target, retrying transient failures with exponential backoff.
// It returns the number of calls made.
func (p *Pool) execute(ctx context.Context, target aiops.Target, req *aiops.ExecuteRequest, timeout time.Duration) (*aiops.ExecuteResponse, int, error) {
	var resp *aiops.ExecuteResponse
	tries := 0
	op := func() error {
		tries++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		out, err := p.target.Execute(callCtx, target, req)
		if err == nil {
			p.metrics.RemoteExecution("ok", time.Since(start))
			resp = out
			return nil
		}
		if aiops.IsTransient(err) {
			p.metrics.RemoteExecution("transient", time.Since(start))
			p.logger.Debug("transient execution failure",
				zap.String("run_id", req.RunID), zap.String("case_id", req.CaseID), zap.Int("try", tries), zap.Error(err))
			return err
		}
		p.metrics.RemoteExecution("error", time.Since(start))
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBase
	b.MaxInterval = 30 * p.cfg.RetryBase
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.RetryAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, tries, err
	}
	return resp, tries, nil
}

// record reports a result. Rejections of late results are expected after a cancel.
func (p *Pool) record(ctx context.Context, logger *zap.Logger, in domain.ResultInput) {
	_, err := p.coord.RecordResult(ctx, in)
	switch {
	case err == nil:
	case domain.IsKind(err, domain.KindState), domain.IsKind(err, domain.KindConflict):
		logger.Info("result dropped", zap.String("case_id", in.CaseID), zap.String("reason", domain.MessageOf(err)))
	default:
		logger.Error("failed to record result", zap.String("case_id", in.CaseID), zap.Error(err))
	}
}
