// Package stream owns the bridge event stream connection: connect, read,
// reconnect after a fixed delay, and halt after too many consecutive failures.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/septivank/hue-event-logger/internal/hue"
	"github.com/septivank/hue-event-logger/internal/service"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	// StateHalted is terminal; the process must be restarted.
	StateHalted State = "halted"
)

const (
	dataPrefix         = "data:"
	defaultJoinTimeout = 5 * time.Second
	defaultReadTimeout = 60 * time.Second
)

var (
	// ErrHalted is returned by Start once the failure threshold was reached.
	ErrHalted = errors.New("event stream halted after repeated failures")

	errReadTimeout = errors.New("no data received within read timeout")
)

// Source is the bridge API used by the manager.
type Source interface {
	OpenEventStream(ctx context.Context) (io.ReadCloser, error)
	FetchDevices(ctx context.Context) ([]hue.Device, error)
}

// FrameHandler consumes one data frame and its ingestion timestamp.
type FrameHandler interface {
	HandleFrame(ctx context.Context, payload []byte, ts time.Time) error
}

// CatalogStore records device catalog entries.
type CatalogStore interface {
	UpsertDevice(ctx context.Context, resourceID, name, deviceType string) error
}

// Config tunes connection handling.
type Config struct {
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
	MaxFailures    int
	JoinTimeout    time.Duration
}

// Manager runs one background goroutine per hub connection.
type Manager struct {
	source  Source
	handler FrameHandler
	catalog CatalogStore
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	done   chan struct{}

	catalogOnce sync.Once
	failures    atomic.Int64
	connects    atomic.Int64
}

// NewManager creates a stopped manager.
func NewManager(source Source, handler FrameHandler, catalog CatalogStore, cfg Config, logger *zap.Logger) *Manager {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Manager{
		source:  source,
		handler: handler,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		state:   StateStopped,
	}
}

// Start launches the stream goroutine. Calling Start while running is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateRunning:
		m.logger.Warn("event stream already running")
		return nil
	case StateHalted:
		return ErrHalted
	}

	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.state = StateRunning
	go m.run(m.stopCh, m.done)

	m.logger.Info("started event stream")
	return nil
}

// Stop signals the stream goroutine and waits up to the join timeout. A read
// in progress is abandoned; the goroutine exits at its next check or when the
// read timeout fires.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	done := m.done
	m.state = StateStopped
	m.mu.Unlock()

	select {
	case <-done:
		m.logger.Info("stopped event stream")
	case <-time.After(m.cfg.JoinTimeout):
		m.logger.Warn("event stream did not stop in time, abandoning in-flight read",
			zap.Duration("join_timeout", m.cfg.JoinTimeout))
	}
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConsecutiveFailures reports the current failure streak.
func (m *Manager) ConsecutiveFailures() int64 { return m.failures.Load() }

// Connects reports how many times the stream was successfully opened.
func (m *Manager) Connects() int64 { return m.connects.Load() }

// RefreshCatalog fetches the device catalog and upserts every entry. It
// returns the number of devices recorded.
func (m *Manager) RefreshCatalog(ctx context.Context) (int, error) {
	m.logger.Info("updating device catalog")

	devices, err := m.source.FetchDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch device catalog: %w", err)
	}

	count := 0
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if err := m.catalog.UpsertDevice(ctx, d.ID, d.DisplayName(), d.DeviceType()); err != nil {
			return count, fmt.Errorf("failed to record device %s: %w", d.ID, err)
		}
		count++
	}

	m.logger.Info("device catalog updated", zap.Int("device_count", count))
	return count, nil
}

func (m *Manager) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx := context.Background()

	m.catalogOnce.Do(func() {
		if _, err := m.RefreshCatalog(ctx); err != nil {
			m.logger.Error("failed to update device catalog", zap.Error(err))
		}
	})

	for !stopped(stopCh) {
		m.logger.Info("connecting to event stream")
		err := m.streamOnce(ctx, stopCh)
		if stopped(stopCh) {
			return
		}

		if err != nil {
			failures := m.failures.Add(1)
			m.logger.Error("stream connection error",
				zap.Error(err),
				zap.Int64("consecutive_failures", failures),
			)
			if failures >= int64(m.cfg.MaxFailures) {
				m.logger.Error("too many consecutive errors, halting event stream",
					zap.Int("max_failures", m.cfg.MaxFailures))
				m.halt(stopCh)
				return
			}
		}

		m.logger.Info("reconnecting to event stream", zap.Duration("delay", m.cfg.ReconnectDelay))
		if !sleep(stopCh, m.cfg.ReconnectDelay) {
			return
		}
	}
}

func (m *Manager) halt(stopCh <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the current run may change state.
	if m.stopCh == stopCh && m.state == StateRunning {
		m.state = StateHalted
	}
}

// streamOnce holds one connection until it ends. A clean end of stream
// returns nil; everything else is a failure.
func (m *Manager) streamOnce(ctx context.Context, stopCh <-chan struct{}) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := m.source.OpenEventStream(connCtx)
	if err != nil {
		return err
	}
	defer body.Close()

	m.failures.Store(0)
	m.connects.Add(1)
	m.logger.Info("connected to event stream")

	var timedOut atomic.Bool
	idle := time.AfterFunc(m.cfg.ReadTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer idle.Stop()

	reader := bufio.NewReader(body)
	for {
		if stopped(stopCh) {
			return nil
		}

		line, readErr := reader.ReadString('\n')
		// Stop may have returned while the read was blocked; drop the line.
		if stopped(stopCh) {
			return nil
		}
		if !idle.Stop() && timedOut.Load() {
			return errReadTimeout
		}

		if line != "" {
			m.handleLine(ctx, line)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				m.logger.Warn("event stream closed by bridge")
				return nil
			}
			return fmt.Errorf("read event stream: %w", readErr)
		}
		idle.Reset(m.cfg.ReadTimeout)
	}
}

func (m *Manager) handleLine(ctx context.Context, raw string) {
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, dataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return
	}

	ts := m.now().UTC()
	if err := m.handler.HandleFrame(ctx, []byte(payload), ts); err != nil {
		if errors.Is(err, service.ErrMalformedBatch) {
			m.logger.Warn("failed to parse event JSON", zap.Error(err))
			return
		}
		m.logger.Error("error processing event", zap.Error(err))
	}
}

func stopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d and returns false if stopCh closed first.
func sleep(stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(stopCh)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}
