package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/metrics"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
)

// Authorizer decides capability checks.
type Authorizer interface {
	Allow(ctx context.Context, user *domain.User, action string, resource authz.Resource) (bool, error)
}

// Publisher receives every recorded run event.
type Publisher interface {
	Publish(event *domain.RunEvent)
}

// Job is a unit of work for the execution pipeline.
// Ctx is cancelled when the run is cancelled or the coordinator closes.
type Job struct {
	RunID string
	Ctx   context.Context
}

// Coordinator owns the lifecycle of test runs: creation, result collection,
// status queries and cancellation. Mutations of one run are serialized.
type Coordinator struct {
	store     repository.Store
	authz     Authorizer
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	locks     *keyedMutex

	queue   chan Job
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool

	now func() time.Time
}

// NewCoordinator creates a coordinator whose execution queue holds queueSize runs.
func NewCoordinator(store repository.Store, authorizer Authorizer, publisher Publisher, m *metrics.Metrics, logger *zap.Logger, queueSize int) *Coordinator {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Coordinator{
		store:     store,
		authz:     authorizer,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With(zap.String("component", "coordinator")),
		locks:     newKeyedMutex(),
		queue:     make(chan Job, queueSize),
		cancels:   make(map[string]context.CancelFunc),
		now:       time.Now,
	}
}

// Jobs returns the execution queue. It is closed by Close.
func (c *Coordinator) Jobs() <-chan Job {
	return c.queue
}

// errQueueFull is the detail stored on runs rejected by a full queue.
const errQueueFull = "execution queue is full"

// enqueue hands runID to the pipeline. It reports false when the queue is full.
// After Close the run is left as is and picked up by RecoverRuns on the next start.
func (c *Coordinator) enqueue(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Info("coordinator closed, run left for recovery", zap.String("run_id", runID))
		return true
	}
	if _, ok := c.cancels[runID]; ok {
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	select {
	case c.queue <- Job{RunID: runID, Ctx: ctx}:
		c.cancels[runID] = cancel
		c.metrics.SetQueueDepth(len(c.queue))
		return true
	default:
		cancel()
		return false
	}
}

// release cancels the execution context of runID, if any.
func (c *Coordinator) release(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[runID]; ok {
		cancel()
		delete(c.cancels, runID)
	}
}

// Release drops the execution context of runID. Workers call it when they are
// done with a run; a run still active afterwards can be enqueued again.
func (c *Coordinator) Release(runID string) {
	c.release(runID)
}

// Dequeued is called by workers after taking a job from the queue.
func (c *Coordinator) Dequeued() {
	c.metrics.SetQueueDepth(len(c.queue))
}

// Close stops accepting work, closes the queue and cancels every in-flight run context.
// Runs left non-terminal are resumed by RecoverRuns on the next start.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
	for runID, cancel := range c.cancels {
		cancel()
		delete(c.cancels, runID)
	}
}
