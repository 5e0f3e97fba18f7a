package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// recordEvent appends an event to the run's log and broadcasts it.
// Failures are logged; they never fail the operation that produced the event.
func (c *Coordinator) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) {
	if err := c.appendEvent(ctx, runID, eventType, payload); err != nil {
		c.logger.Warn("failed to record event",
			zap.String("run_id", runID), zap.String("type", string(eventType)), zap.Error(err))
	}
}

func (c *Coordinator) appendEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.RunEvent{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      c.now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	if err := c.store.CreateEvent(ctx, event); err != nil {
		return err
	}
	if c.publisher != nil {
		c.publisher.Publish(event)
	}
	return nil
}

// GetEvents returns the event log of a run.
func (c *Coordinator) GetEvents(ctx context.Context, runID string, afterTs int64, types []string) ([]domain.RunEvent, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.NotFoundf("test run %s not found", runID)
	}
	return c.store.GetEvents(ctx, runID, afterTs, types, 0)
}
