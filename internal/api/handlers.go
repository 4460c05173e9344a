package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/internal/health"
	"github.com/septivank/hue-event-logger/internal/stream"
	"github.com/septivank/hue-event-logger/internal/tail"
	"github.com/septivank/hue-event-logger/tools/timeparser"
	"go.uber.org/zap"
)

const (
	defaultHealthDays = 7
	defaultEventLimit = 200
	maxEventLimit     = 10000
)

// ReportStore serves the read-side queries
type ReportStore interface {
	GetDeviceHealth(ctx context.Context, fromDay, toDay string) ([]db.DeviceHealth, error)
	GetStats(ctx context.Context, now time.Time) (db.Stats, error)
	GetEvents(ctx context.Context, search string, limit int) ([]db.Event, error)
}

// Tailer runs tail sessions
type Tailer interface {
	Serve(ctx context.Context, emitter tail.Emitter) error
	Sessions() int64
}

// StreamController exposes the ingestion stream state
type StreamController interface {
	State() stream.State
	ConsecutiveFailures() int64
	Connects() int64
	RefreshCatalog(ctx context.Context) (int, error)
}

// QueueStats exposes live queue counters
type QueueStats interface {
	Len() int
	Cap() int
	Evicted() int64
}

// DiagnosticsStats exposes connectivity tracking counters
type DiagnosticsStats interface {
	OpenIntervals() int
}

// Handlers holds the HTTP handlers and their collaborators
type Handlers struct {
	store       ReportStore
	tailer      Tailer
	stream      StreamController
	queue       QueueStats
	diagnostics DiagnosticsStats
	scorer      *health.Scorer
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandlers creates the HTTP handlers
func NewHandlers(
	store ReportStore,
	tailer Tailer,
	streamCtl StreamController,
	queue QueueStats,
	diagnostics DiagnosticsStats,
	scorer *health.Scorer,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		store:       store,
		tailer:      tailer,
		stream:      streamCtl,
		queue:       queue,
		diagnostics: diagnostics,
		scorer:      scorer,
		logger:      logger,
		now:         time.Now,
	}
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Devices []health.Report `json:"devices"`
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	TotalEvents     int64  `json:"total_events"`
	TotalDevices    int64  `json:"total_devices"`
	ActiveDevices7d int64  `json:"active_devices_7d"`
	EventsLastHour  int64  `json:"events_last_hour"`
	QueueLength     int    `json:"queue_length"`
	QueueCapacity   int    `json:"queue_capacity"`
	QueueEvicted    int64  `json:"queue_evicted"`
	StreamState     string `json:"stream_state"`
	StreamFailures  int64  `json:"stream_consecutive_failures"`
	StreamConnects  int64  `json:"stream_connects"`
	OpenIntervals   int    `json:"open_connectivity_intervals"`
	TailSessions    int64  `json:"tail_sessions"`
}

// EventView is one stored event in GET /api/events
type EventView struct {
	ID           int64           `json:"id"`
	Timestamp    string          `json:"ts"`
	ResourceID   string          `json:"rid"`
	ResourceType string          `json:"rtype"`
	Raw          json.RawMessage `json:"raw"`
}

// EventsResponse is the body of GET /api/events
type EventsResponse struct {
	Query  string      `json:"q"`
	Limit  int         `json:"limit"`
	Events []EventView `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Liveness reports that the process is serving
func (h *Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"stream_state": string(h.stream.State()),
	})
}

// Tail streams merged live and stored events as server-sent events
func (h *Handlers) Tail(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondWithError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.tailer.Serve(r.Context(), &sseEmitter{w: w, flusher: flusher})
	if err != nil && !errors.Is(err, tail.ErrViewerGone) {
		h.logger.Warn("tail session ended with error", zap.Error(err))
	}
}

// DeviceHealth returns scored device diagnostics for a day range
func (h *Handlers) DeviceHealth(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	query := r.URL.Query()

	from, to, err := timeparser.DayRange(query.Get("from"), query.Get("to"), now, defaultHealthDays)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	devices, err := h.store.GetDeviceHealth(r.Context(), from, to)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "failed to load device health", err)
		return
	}

	respondWithJSON(w, http.StatusOK, HealthResponse{
		From:    from,
		To:      to,
		Devices: h.scorer.Rank(devices, now),
	})
}

// Events returns the newest stored events, optionally filtered by a substring
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	search := strings.TrimSpace(query.Get("q"))
	limit := eventLimit(query.Get("limit"))

	events, err := h.store.GetEvents(r.Context(), search, limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "failed to load events", err)
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, EventView{
			ID:           e.ID,
			Timestamp:    timeparser.FormatTimestamp(e.Timestamp),
			ResourceID:   e.ResourceID,
			ResourceType: e.ResourceType,
			Raw:          e.Raw,
		})
	}

	respondWithJSON(w, http.StatusOK, EventsResponse{
		Query:  search,
		Limit:  limit,
		Events: views,
	})
}

// eventLimit falls back to the default for missing or non-positive values
// and caps the rest.
func eventLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}

// Stats returns store counters together with runtime state
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context(), h.now())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "failed to load stats", err)
		return
	}

	respondWithJSON(w, http.StatusOK, StatsResponse{
		TotalEvents:     stats.TotalEvents,
		TotalDevices:    stats.TotalDevices,
		ActiveDevices7d: stats.ActiveDevices7d,
		EventsLastHour:  stats.EventsLastHour,
		QueueLength:     h.queue.Len(),
		QueueCapacity:   h.queue.Cap(),
		QueueEvicted:    h.queue.Evicted(),
		StreamState:     string(h.stream.State()),
		StreamFailures:  h.stream.ConsecutiveFailures(),
		StreamConnects:  h.stream.Connects(),
		OpenIntervals:   h.diagnostics.OpenIntervals(),
		TailSessions:    h.tailer.Sessions(),
	})
}

// RefreshDevices re-reads the device catalog from the bridge
func (h *Handlers) RefreshDevices(w http.ResponseWriter, r *http.Request) {
	if h.stream.State() == stream.StateHalted {
		h.respondWithError(w, http.StatusServiceUnavailable, stream.ErrHalted.Error(), nil)
		return
	}

	count, err := h.stream.RefreshCatalog(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, "failed to refresh devices", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": count,
	})
}

func (h *Handlers) respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		h.logger.Error("api request failed", zap.String("message", message), zap.Error(err))
		message = fmt.Sprintf("%s: %v", message, err)
	}
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
