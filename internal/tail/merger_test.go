package tail

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/internal/livequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeReader struct {
	mu      sync.Mutex
	events  []db.Event
	maxErr  error
	pollErr error
	polls   int
}

func (r *fakeReader) add(rid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := int64(len(r.events) + 1)
	r.events = append(r.events, db.Event{
		ID:           id,
		Timestamp:    time.Date(2025, 12, 29, 12, 0, int(id), 0, time.UTC),
		ResourceID:   rid,
		ResourceType: "light",
		Raw:          json.RawMessage(`{"id":"` + rid + `"}`),
	})
}

func (r *fakeReader) GetEventsSinceID(_ context.Context, cursor int64) ([]db.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.pollErr != nil {
		err := r.pollErr
		r.pollErr = nil
		return nil, err
	}
	var out []db.Event
	for _, e := range r.events {
		if e.ID > cursor {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeReader) GetMaxEventID(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxErr != nil {
		return 0, r.maxErr
	}
	return int64(len(r.events)), nil
}

func (r *fakeReader) pollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

func (r *fakeReader) event(id int64) db.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEmitter struct {
	mu     sync.Mutex
	frames []Frame
	failAt int
}

func (e *fakeEmitter) Emit(f Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAt > 0 && len(e.frames)+1 >= e.failAt {
		return errors.New("broken pipe")
	}
	e.frames = append(e.frames, f)
	return nil
}

func (e *fakeEmitter) snapshot() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Frame(nil), e.frames...)
}

func fastConfig() Config {
	return Config{
		DrainBatch:   100,
		PollInterval: 10 * time.Millisecond,
		IdleSleep:    2 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	}
}

// serve runs a session in the background and returns a stop func that
// cancels it and yields Serve's result.
func serve(t *testing.T, m *Merger, emitter Emitter) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- m.Serve(ctx, emitter) }()

	return func() error {
		cancel()
		select {
		case err := <-result:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("tail session did not stop")
			return nil
		}
	}
}

func TestServe_CursorStartsAtCurrentMax(t *testing.T) {
	reader := &fakeReader{}
	reader.add("old-1")
	reader.add("old-2")
	m := NewMerger(reader, livequeue.New(10), fastConfig(), zap.NewNop())
	emitter := &fakeEmitter{}

	stop := serve(t, m, emitter)
	assert.Eventually(t, func() bool { return m.Sessions() == 1 }, time.Second, time.Millisecond)
	reader.add("new-3")
	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, stop())

	frames := emitter.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, int64(3), frames[0].ID)
	assert.Equal(t, "new-3", frames[0].ResourceID)
	assert.Equal(t, SourceStore, frames[0].Source)
	assert.Equal(t, "2025-12-29T12:00:03.000000Z", frames[0].Timestamp)
	assert.Equal(t, int64(0), m.Sessions())
}

func TestServe_LiveEntriesInOrder(t *testing.T) {
	queue := livequeue.New(10)
	ts := time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)
	for _, rid := range []string{"a", "b", "c"} {
		queue.Push(livequeue.Entry{Timestamp: ts, ResourceID: rid, ResourceType: "light", Raw: json.RawMessage(`{}`)})
	}

	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	m := NewMerger(&fakeReader{}, queue, cfg, zap.NewNop())
	emitter := &fakeEmitter{}

	stop := serve(t, m, emitter)
	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 3 }, time.Second, 2*time.Millisecond)
	require.NoError(t, stop())

	var rids []string
	for _, f := range emitter.snapshot() {
		assert.Equal(t, SourceLive, f.Source)
		rids = append(rids, f.ResourceID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, rids)
	assert.Equal(t, 0, queue.Len())
}

func TestServe_DrainBatchBoundsIteration(t *testing.T) {
	queue := livequeue.New(10)
	for i := 0; i < 5; i++ {
		queue.Push(livequeue.Entry{ResourceID: "x"})
	}

	cfg := fastConfig()
	cfg.DrainBatch = 2
	cfg.PollInterval = time.Hour
	cfg.IdleSleep = time.Hour
	m := NewMerger(&fakeReader{}, queue, cfg, zap.NewNop())
	emitter := &fakeEmitter{}

	stop := serve(t, m, emitter)
	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stop())

	assert.Len(t, emitter.snapshot(), 2)
	assert.Equal(t, 3, queue.Len())
}

func TestServe_PollErrorEmitsErrorFrameAndContinues(t *testing.T) {
	reader := &fakeReader{pollErr: errors.New("database is locked")}
	m := NewMerger(reader, livequeue.New(10), fastConfig(), zap.NewNop())
	emitter := &fakeEmitter{}

	stop := serve(t, m, emitter)
	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 1 }, time.Second, 2*time.Millisecond)
	reader.add("after-error")
	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 2 }, time.Second, 2*time.Millisecond)
	require.NoError(t, stop())

	frames := emitter.snapshot()
	assert.Equal(t, "database is locked", frames[0].Error)
	assert.Empty(t, frames[0].ResourceID)
	assert.Equal(t, "after-error", frames[1].ResourceID)
}

func TestServe_ViewerGone(t *testing.T) {
	queue := livequeue.New(10)
	queue.Push(livequeue.Entry{ResourceID: "a"})
	queue.Push(livequeue.Entry{ResourceID: "b"})
	m := NewMerger(&fakeReader{}, queue, fastConfig(), zap.NewNop())

	err := m.Serve(context.Background(), &fakeEmitter{failAt: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrViewerGone)
}

func TestServe_CursorErrorEndsSession(t *testing.T) {
	reader := &fakeReader{maxErr: errors.New("no such table: events")}
	m := NewMerger(reader, livequeue.New(10), fastConfig(), zap.NewNop())
	emitter := &fakeEmitter{}

	err := m.Serve(context.Background(), emitter)
	require.Error(t, err)
	frames := emitter.snapshot()
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0].Error, "no such table")
}

func TestServe_IndependentSessions(t *testing.T) {
	reader := &fakeReader{}
	m := NewMerger(reader, livequeue.New(10), fastConfig(), zap.NewNop())
	first, second := &fakeEmitter{}, &fakeEmitter{}

	stopFirst := serve(t, m, first)
	stopSecond := serve(t, m, second)
	assert.Eventually(t, func() bool { return m.Sessions() == 2 }, time.Second, time.Millisecond)

	reader.add("shared")
	assert.Eventually(t, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, stopFirst())
	require.NoError(t, stopSecond())
}

func TestFrameKey(t *testing.T) {
	assert.Equal(t, "42", Frame{ID: 42, ResourceID: "a"}.Key())
	assert.Equal(t, "2025-12-29T12:00:00.000000Z|a|light",
		Frame{Timestamp: "2025-12-29T12:00:00.000000Z", ResourceID: "a", ResourceType: "light"}.Key())
}

func TestFrameJSON(t *testing.T) {
	body, err := json.Marshal(Frame{Error: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, string(body))

	body, err = json.Marshal(Frame{ID: 7, Timestamp: "t", ResourceID: "r", ResourceType: "light", Raw: json.RawMessage(`{"a":1}`), Source: SourceLive})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"ts":"t","rid":"r","rtype":"light","raw":{"a":1},"src":"live"}`, string(body))
}

func TestServe_PollsAtMostOncePerInterval(t *testing.T) {
	reader := &fakeReader{}
	clock := &fakeClock{now: time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)}
	cfg := fastConfig()
	cfg.PollInterval = 2 * time.Second
	cfg.IdleSleep = time.Millisecond
	m := NewMerger(reader, livequeue.New(10), cfg, zap.NewNop())
	m.now = clock.Now

	stop := serve(t, m, &fakeEmitter{})
	assert.Eventually(t, func() bool { return m.Sessions() == 1 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, reader.pollCount())

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, reader.pollCount())

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return reader.pollCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, reader.pollCount())

	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool { return reader.pollCount() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, reader.pollCount())

	require.NoError(t, stop())
}

func TestServe_EventOnBothPathsSharesKey(t *testing.T) {
	reader := &fakeReader{}
	queue := livequeue.New(10)
	m := NewMerger(reader, queue, fastConfig(), zap.NewNop())
	emitter := &fakeEmitter{}

	stop := serve(t, m, emitter)
	assert.Eventually(t, func() bool { return m.Sessions() == 1 }, time.Second, time.Millisecond)

	reader.add("l1")
	stored := reader.event(1)
	queue.Push(livequeue.Entry{
		EventID:      stored.ID,
		Timestamp:    stored.Timestamp,
		ResourceID:   stored.ResourceID,
		ResourceType: stored.ResourceType,
		Raw:          stored.Raw,
	})

	assert.Eventually(t, func() bool { return len(emitter.snapshot()) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, stop())

	frames := emitter.snapshot()
	require.Len(t, frames, 2)
	assert.ElementsMatch(t, []Source{SourceLive, SourceStore}, []Source{frames[0].Source, frames[1].Source})
	assert.Equal(t, frames[0].Key(), frames[1].Key())
	assert.Equal(t, frames[0].Timestamp, frames[1].Timestamp)
}
