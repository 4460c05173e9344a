package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteRepository {
	t.Helper()
	sqlDB, err := db.OpenSQLite("sqlite:" + filepath.Join(t.TempDir(), "hue.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewSQLiteRepository(sqlDB)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestSQLite_EnsureSchemaIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestSQLite_EventLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	maxID, err := store.GetMaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxID)

	ts := time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)
	first, err := store.InsertEvent(ctx, ts, "light-1", "light", []byte(`{"id":"light-1","on":{"on":true}}`))
	require.NoError(t, err)
	second, err := store.InsertEvent(ctx, ts, "motion-1", "motion", []byte(`{"id":"motion-1"}`))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	maxID, err = store.GetMaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, maxID)

	events, err := store.GetEventsSinceID(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].ID)
	assert.Equal(t, "light-1", events[0].ResourceID)
	assert.Equal(t, "light", events[0].ResourceType)
	assert.True(t, events[0].Timestamp.Equal(ts))
	assert.JSONEq(t, `{"id":"light-1","on":{"on":true}}`, string(events[0].Raw))

	events, err = store.GetEventsSinceID(ctx, first)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, second, events[0].ID)

	events, err = store.GetEventsSinceID(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLite_DeleteEventsBefore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)
	_, err := store.InsertEvent(ctx, old, "light-1", "light", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.InsertEvent(ctx, recent, "light-1", "light", []byte(`{}`))
	require.NoError(t, err)

	deleted, err := store.DeleteEventsBefore(ctx, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, err := store.GetEventsSinceID(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Timestamp.Equal(recent))
}

func TestSQLite_DiagnosticsAggregation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertDevice(ctx, "dev-1", "Hallway sensor", "device"))

	day1 := "2025-12-28"
	day2 := "2025-12-29"
	outside := "2025-12-20"

	ts1 := time.Date(2025, 12, 28, 9, 0, 0, 0, time.UTC)
	ts2 := time.Date(2025, 12, 29, 18, 0, 0, 0, time.UTC)
	earlier := time.Date(2025, 12, 29, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpdateLastSeen(ctx, "dev-1", day1, ts1))
	require.NoError(t, store.IncrementDisconnects(ctx, "dev-1", day1))
	require.NoError(t, store.IncrementDisconnects(ctx, "dev-1", day1))
	require.NoError(t, store.AddUnreachableMinutes(ctx, "dev-1", day1, 5))

	require.NoError(t, store.UpdateLastSeen(ctx, "dev-1", day2, ts2))
	require.NoError(t, store.UpdateLastSeen(ctx, "dev-1", day2, earlier))
	require.NoError(t, store.IncrementDisconnects(ctx, "dev-1", day2))
	require.NoError(t, store.AddUnreachableMinutes(ctx, "dev-1", day2, 3))
	require.NoError(t, store.AddUnreachableMinutes(ctx, "dev-1", day2, 0))
	require.NoError(t, store.AddUnreachableMinutes(ctx, "dev-1", day2, -4))
	require.NoError(t, store.SetBatteryLow(ctx, "dev-1", day2))

	require.NoError(t, store.IncrementDisconnects(ctx, "dev-1", outside))
	require.NoError(t, store.IncrementDisconnects(ctx, "orphan", day2))

	health, err := store.GetDeviceHealth(ctx, day1, day2)
	require.NoError(t, err)
	require.Len(t, health, 2)

	dev := health[0]
	assert.Equal(t, "dev-1", dev.ResourceID)
	assert.Equal(t, "Hallway sensor", dev.Name)
	assert.Equal(t, "device", dev.Type)
	assert.Equal(t, int64(3), dev.Disconnects)
	assert.Equal(t, int64(8), dev.MinutesUnreachable)
	require.NotNil(t, dev.LastSeen)
	assert.True(t, dev.LastSeen.Equal(ts2), "latest last-seen wins, got %v", dev.LastSeen)
	assert.True(t, dev.BatteryLow)

	orphan := health[1]
	assert.Equal(t, "orphan", orphan.ResourceID)
	assert.Equal(t, "orphan", orphan.Name)
	assert.Equal(t, "device", orphan.Type)
	assert.Nil(t, orphan.LastSeen)
	assert.False(t, orphan.BatteryLow)
}

func TestSQLite_BatteryLowIsSticky(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	day := "2025-12-29"

	require.NoError(t, store.SetBatteryLow(ctx, "dev-1", day))
	require.NoError(t, store.UpdateLastSeen(ctx, "dev-1", day, time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC)))

	health, err := store.GetDeviceHealth(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.True(t, health[0].BatteryLow)
}

func TestSQLite_UpsertDeviceUpdatesName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	day := "2025-12-29"

	require.NoError(t, store.UpsertDevice(ctx, "dev-1", "Old", "device"))
	require.NoError(t, store.UpsertDevice(ctx, "dev-1", "New", "bridge"))
	require.NoError(t, store.IncrementDisconnects(ctx, "dev-1", day))

	health, err := store.GetDeviceHealth(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.Equal(t, "New", health[0].Name)
	assert.Equal(t, "bridge", health[0].Type)
}

func TestSQLite_Stats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)

	_, err := store.InsertEvent(ctx, now.Add(-10*time.Minute), "a", "light", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.InsertEvent(ctx, now.Add(-3*time.Hour), "b", "light", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.UpsertDevice(ctx, "a", "A", "device"))
	require.NoError(t, store.UpdateLastSeen(ctx, "a", "2025-12-29", now))
	require.NoError(t, store.UpdateLastSeen(ctx, "b", "2025-12-01", now))

	stats, err := store.GetStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.TotalDevices)
	assert.Equal(t, int64(1), stats.ActiveDevices7d)
	assert.Equal(t, int64(1), stats.EventsLastHour)
}

func TestSQLite_ConcurrentWritersAndReaders(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ts := time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := store.InsertEvent(ctx, ts, "light-1", "light", []byte(`{}`))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := store.GetEventsSinceID(ctx, 0)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	maxID, err := store.GetMaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), maxID)
}

func TestSQLite_GetEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ts := time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC)
	light, err := store.InsertEvent(ctx, ts, "light-1", "light", []byte(`{"id":"light-1","on":{"on":true}}`))
	require.NoError(t, err)
	motion, err := store.InsertEvent(ctx, ts, "motion-1", "motion", []byte(`{"id":"motion-1","motion":{"motion":true}}`))
	require.NoError(t, err)
	battery, err := store.InsertEvent(ctx, ts, "power-1", "device_power", []byte(`{"id":"power-1","power_state":{"battery_state":"low"}}`))
	require.NoError(t, err)

	events, err := store.GetEvents(ctx, "", 200)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{battery, motion, light}, []int64{events[0].ID, events[1].ID, events[2].ID})

	events, err = store.GetEvents(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, battery, events[0].ID)

	// Matches on resource id
	events, err = store.GetEvents(ctx, "light-", 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, light, events[0].ID)

	// Matches on type
	events, err = store.GetEvents(ctx, "device_pow", 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, battery, events[0].ID)

	// Matches inside the payload
	events, err = store.GetEvents(ctx, `"motion":true`, 200)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, motion, events[0].ID)
	assert.True(t, events[0].Timestamp.Equal(ts))

	events, err = store.GetEvents(ctx, "thermostat", 200)
	require.NoError(t, err)
	assert.Empty(t, events)
}
