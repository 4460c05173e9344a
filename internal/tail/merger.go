// Package tail merges the low-latency live queue with periodic store polling
// into one per-viewer frame sequence.
package tail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/internal/livequeue"
	"github.com/septivank/hue-event-logger/internal/logging"
	"github.com/septivank/hue-event-logger/tools/timeparser"
	"go.uber.org/zap"
)

// ErrViewerGone is returned by Serve when a frame can no longer be delivered.
var ErrViewerGone = errors.New("tail viewer disconnected")

// Source tells a viewer which path produced a frame.
type Source string

const (
	SourceLive  Source = "live"
	SourceStore Source = "store"
)

// Frame is one message sent to a viewer. Error frames carry only Error.
type Frame struct {
	ID           int64           `json:"id,omitempty"`
	Timestamp    string          `json:"ts,omitempty"`
	ResourceID   string          `json:"rid,omitempty"`
	ResourceType string          `json:"rtype,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	Source       Source          `json:"src,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Key identifies the underlying event for viewer-side dedup. The same event
// may arrive once from each source.
func (f Frame) Key() string {
	if f.ID != 0 {
		return strconv.FormatInt(f.ID, 10)
	}
	return f.Timestamp + "|" + f.ResourceID + "|" + f.ResourceType
}

// Emitter delivers frames to one viewer.
type Emitter interface {
	Emit(Frame) error
}

// EventReader is the part of the store the merger polls.
type EventReader interface {
	GetEventsSinceID(ctx context.Context, cursor int64) ([]db.Event, error)
	GetMaxEventID(ctx context.Context) (int64, error)
}

// Drainer is the part of the live queue the merger consumes.
type Drainer interface {
	Drain(max int) []livequeue.Entry
}

// Config sets the loop cadence.
type Config struct {
	DrainBatch   int
	PollInterval time.Duration
	IdleSleep    time.Duration
	ErrorBackoff time.Duration
}

// Merger serves any number of independent viewer sessions.
type Merger struct {
	events   EventReader
	live     Drainer
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	sessions atomic.Int64
}

// NewMerger creates a Merger.
func NewMerger(events EventReader, live Drainer, cfg Config, logger *zap.Logger) *Merger {
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 100
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Merger{
		events: events,
		live:   live,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Sessions reports the number of viewers with an established cursor.
func (m *Merger) Sessions() int64 { return m.sessions.Load() }

type session struct {
	cursor   int64
	lastPoll time.Time
	logger   *zap.Logger
}

// Serve runs one viewer session until ctx ends or the viewer goes away.
// Delivery is at-least-once.
func (m *Merger) Serve(ctx context.Context, emitter Emitter) error {
	s := &session{
		lastPoll: m.now(),
		logger:   logging.WithSession(m.logger, uuid.NewString()),
	}

	cursor, err := m.events.GetMaxEventID(ctx)
	if err != nil {
		err = fmt.Errorf("failed to read tail cursor: %w", err)
		s.logger.Error("tail session failed to start", zap.Error(err))
		_ = emitter.Emit(Frame{Error: err.Error()})
		return err
	}
	s.cursor = cursor
	m.sessions.Add(1)
	defer m.sessions.Add(-1)

	s.logger.Info("tail session started", zap.Int64("cursor", cursor))
	defer s.logger.Info("tail session ended")

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := m.iterate(ctx, s, emitter)
		switch {
		case err == nil:
			if !wait(ctx, m.cfg.IdleSleep) {
				return nil
			}
		case errors.Is(err, ErrViewerGone):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			s.logger.Error("error in tail session", zap.Error(err))
			if emitErr := emitter.Emit(Frame{Error: err.Error()}); emitErr != nil {
				return fmt.Errorf("%w: %v", ErrViewerGone, emitErr)
			}
			if !wait(ctx, m.cfg.ErrorBackoff) {
				return nil
			}
		}
	}
}

func (m *Merger) iterate(ctx context.Context, s *session, emitter Emitter) error {
	for _, entry := range m.live.Drain(m.cfg.DrainBatch) {
		if err := emitter.Emit(liveFrame(entry)); err != nil {
			return fmt.Errorf("%w: %v", ErrViewerGone, err)
		}
	}

	now := m.now()
	if now.Sub(s.lastPoll) < m.cfg.PollInterval {
		return nil
	}

	events, err := m.events.GetEventsSinceID(ctx, s.cursor)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := emitter.Emit(storeFrame(e)); err != nil {
			return fmt.Errorf("%w: %v", ErrViewerGone, err)
		}
		s.cursor = e.ID
	}
	s.lastPoll = now
	return nil
}

func liveFrame(e livequeue.Entry) Frame {
	return Frame{
		ID:           e.EventID,
		Timestamp:    timeparser.FormatTimestamp(e.Timestamp),
		ResourceID:   e.ResourceID,
		ResourceType: e.ResourceType,
		Raw:          e.Raw,
		Source:       SourceLive,
	}
}

func storeFrame(e db.Event) Frame {
	return Frame{
		ID:           e.ID,
		Timestamp:    timeparser.FormatTimestamp(e.Timestamp),
		ResourceID:   e.ResourceID,
		ResourceType: e.ResourceType,
		Raw:          e.Raw,
		Source:       SourceStore,
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
