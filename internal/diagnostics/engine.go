// Package diagnostics derives per-device connectivity and battery diagnostics
// from the event stream and aggregates them into UTC day buckets.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/hue-event-logger/tools/timeparser"
	"go.uber.org/zap"
)

// Writer persists day-bucket diagnostics.
type Writer interface {
	UpdateLastSeen(ctx context.Context, resourceID, day string, ts time.Time) error
	IncrementDisconnects(ctx context.Context, resourceID, day string) error
	AddUnreachableMinutes(ctx context.Context, resourceID, day string, minutes int64) error
	SetBatteryLow(ctx context.Context, resourceID, day string) error
}

// Engine runs the per-device connectivity state machine. It is driven by the
// single ingestion goroutine.
type Engine struct {
	store   Writer
	tracker *Tracker
	logger  *zap.Logger
}

// NewEngine creates a diagnostics engine with fresh tracking state.
func NewEngine(store Writer, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		tracker: NewTracker(),
		logger:  logger,
	}
}

// Process folds one resource event observed at ts into the diagnostics.
// Persistence errors are returned; tracking state already updated stays.
func (e *Engine) Process(ctx context.Context, resourceID string, payload map[string]any, ts time.Time) error {
	ts = ts.UTC()
	day := timeparser.DayBucket(ts)

	if err := e.store.UpdateLastSeen(ctx, resourceID, day, ts); err != nil {
		return fmt.Errorf("diagnostics for %s: %w", resourceID, err)
	}

	if batteryLow(payload) {
		if err := e.store.SetBatteryLow(ctx, resourceID, day); err != nil {
			return fmt.Errorf("diagnostics for %s: %w", resourceID, err)
		}
	}

	if err := e.processConnectivity(ctx, resourceID, payload, ts, day); err != nil {
		return fmt.Errorf("diagnostics for %s: %w", resourceID, err)
	}
	return nil
}

func (e *Engine) processConnectivity(ctx context.Context, resourceID string, payload map[string]any, ts time.Time, day string) error {
	status := connectivityStatus(payload)
	if status == "" {
		return nil
	}

	switch classify(status) {
	case statusBad:
		// Distinct bad literals in a row share one interval.
		if !e.tracker.MarkBad(resourceID, ts) {
			return nil
		}
		e.logger.Debug("device disconnected",
			zap.String("resource_id", resourceID),
			zap.String("status", status),
		)
		return e.store.IncrementDisconnects(ctx, resourceID, day)

	case statusGood:
		since, ok := e.tracker.Clear(resourceID)
		if !ok {
			return nil
		}
		minutes := int64(ts.Sub(since) / time.Minute)
		if minutes <= 0 {
			return nil
		}
		e.logger.Debug("device reconnected",
			zap.String("resource_id", resourceID),
			zap.Int64("downtime_minutes", minutes),
		)
		return e.store.AddUnreachableMinutes(ctx, resourceID, day, minutes)
	}

	return nil
}

// OpenIntervals returns how many devices are currently in a bad state.
func (e *Engine) OpenIntervals() int {
	return e.tracker.Len()
}

// Reset forgets all open downtime intervals.
func (e *Engine) Reset() {
	e.tracker.Reset()
}
