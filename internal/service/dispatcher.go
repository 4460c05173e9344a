package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/septivank/hue-event-logger/internal/hue"
	"github.com/septivank/hue-event-logger/internal/livequeue"
	"github.com/septivank/hue-event-logger/internal/logging"
	"github.com/septivank/hue-event-logger/internal/mq"
	"github.com/septivank/hue-event-logger/internal/validator"
	"github.com/septivank/hue-event-logger/tools/timeparser"
	"go.uber.org/zap"
)

// ErrMalformedBatch marks a frame whose JSON could not be decoded
var ErrMalformedBatch = errors.New("malformed event batch")

// EventStore persists raw events
type EventStore interface {
	InsertEvent(ctx context.Context, ts time.Time, resourceID, resourceType string, raw []byte) (int64, error)
}

// LiveQueue receives events for tail viewers
type LiveQueue interface {
	Push(e livequeue.Entry)
}

// DiagnosticsProcessor folds events into device diagnostics
type DiagnosticsProcessor interface {
	Process(ctx context.Context, resourceID string, payload map[string]any, ts time.Time) error
}

// EventPublisher forwards stored events to downstream consumers
type EventPublisher interface {
	PublishEvent(ctx context.Context, event mq.ResourceEvent) error
}

// Dispatcher flattens stream frames into resource events and fans them out
type Dispatcher struct {
	store       EventStore
	queue       LiveQueue
	diagnostics DiagnosticsProcessor
	publisher   EventPublisher
	validator   *validator.Validator
	logger      *zap.Logger

	frames atomic.Int64
	events atomic.Int64
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	store EventStore,
	queue LiveQueue,
	diagnostics DiagnosticsProcessor,
	publisher EventPublisher,
	validator *validator.Validator,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		queue:       queue,
		diagnostics: diagnostics,
		publisher:   publisher,
		validator:   validator,
		logger:      logger,
	}
}

// HandleFrame processes one data frame. Every event in the frame shares ts.
// A store or diagnostics error aborts the rest of the frame and is returned.
func (d *Dispatcher) HandleFrame(ctx context.Context, payload []byte, ts time.Time) error {
	var envelopes []hue.Envelope
	if err := json.Unmarshal(payload, &envelopes); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	d.frames.Add(1)
	ts = ts.UTC()

	processed := 0
	for _, env := range envelopes {
		for _, raw := range env.Data {
			delta, result := d.validator.ValidateDelta(raw, env.Type)
			if !result.IsValid {
				d.logger.Debug("discarding delta",
					zap.String("envelope_type", env.Type),
					zap.String("reason", result.Reason),
				)
				continue
			}

			if err := d.dispatch(ctx, delta, ts); err != nil {
				return err
			}
			processed++
		}
	}

	d.logger.Debug("frame processed", zap.Int("events_count", processed))
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, delta validator.Delta, ts time.Time) error {
	id, err := d.store.InsertEvent(ctx, ts, delta.ResourceID, delta.ResourceType, delta.Raw)
	if err != nil {
		return fmt.Errorf("failed to store event for %s: %w", delta.ResourceID, err)
	}

	d.queue.Push(livequeue.Entry{
		EventID:      id,
		Timestamp:    ts,
		ResourceID:   delta.ResourceID,
		ResourceType: delta.ResourceType,
		Raw:          delta.Raw,
	})

	if err := d.diagnostics.Process(ctx, delta.ResourceID, delta.Payload, ts); err != nil {
		return err
	}
	d.events.Add(1)

	event := mq.ResourceEvent{
		ID:           id,
		Timestamp:    timeparser.FormatTimestamp(ts),
		ResourceID:   delta.ResourceID,
		ResourceType: delta.ResourceType,
		Raw:          delta.Raw,
	}
	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		// Log error but don't fail the frame
		logging.WithResource(d.logger, delta.ResourceID, delta.ResourceType).
			Error("failed to publish event", zap.Error(err), zap.Int64("event_id", id))
	}
	return nil
}

// Frames returns the number of successfully decoded frames.
func (d *Dispatcher) Frames() int64 { return d.frames.Load() }

// Events returns the number of fully dispatched resource events.
func (d *Dispatcher) Events() int64 { return d.events.Load() }
