// Package retention prunes old events from the store on a fixed schedule.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger deletes events recorded before a cutoff.
type Purger interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor runs a purge at start and then once per interval.
type Janitor struct {
	store    Purger
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a janitor keeping days of events. days <= 0 disables it.
func NewJanitor(store Purger, days int, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:    store,
		maxAge:   time.Duration(days) * 24 * time.Hour,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether a retention window is configured.
func (j *Janitor) Enabled() bool { return j.maxAge > 0 }

// Start launches the background loop. It is a no-op when disabled or running.
func (j *Janitor) Start() {
	if !j.Enabled() {
		j.logger.Info("event retention disabled")
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.loop(ctx, j.done)

	j.logger.Info("started event retention",
		zap.Duration("max_age", j.maxAge),
		zap.Duration("interval", j.interval),
	)
}

// Stop cancels the loop and waits for an in-flight purge to return.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce deletes every event older than the retention window.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.maxAge).UTC()
	deleted, err := j.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		j.logger.Info("purged old events",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}

func (j *Janitor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("event retention failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
