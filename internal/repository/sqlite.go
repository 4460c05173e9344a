package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/tools/timeparser"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	rid        TEXT NOT NULL,
	rtype      TEXT NOT NULL,
	raw        TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS devices (
	rid        TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS diag (
	rid                 TEXT NOT NULL,
	day                 TEXT NOT NULL,
	disconnects         INTEGER NOT NULL DEFAULT 0,
	minutes_unreachable INTEGER NOT NULL DEFAULT 0,
	last_seen_ts        TEXT,
	battery_low         INTEGER NOT NULL DEFAULT 0,
	updated_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (rid, day)
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_rid ON events(rid);
CREATE INDEX IF NOT EXISTS idx_events_rtype ON events(rtype);
CREATE INDEX IF NOT EXISTS idx_diag_day ON diag(day);
`

// SQLiteRepository is the embedded SQLite Store. Timestamps are stored as
// fixed-width UTC text so MAX and range comparisons order correctly.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(sqlDB *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: sqlDB}
}

// EnsureSchema creates the tables and indexes if they do not exist
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertEvent appends an event and returns its sequence id
func (r *SQLiteRepository) InsertEvent(ctx context.Context, ts time.Time, resourceID, resourceType string, raw []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO events (ts, rid, rtype, raw) VALUES (?, ?, ?, ?)`,
		timeparser.FormatTimestamp(ts), resourceID, resourceType, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// GetEventsSinceID returns events with id greater than cursor in ascending id order
func (r *SQLiteRepository) GetEventsSinceID(ctx context.Context, cursor int64) ([]db.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ts, rid, rtype, raw FROM events WHERE id > ? ORDER BY id`, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return collectSQLiteEvents(rows)
}

// GetEvents returns the newest events first, at most limit of them. A
// non-empty search keeps events whose payload, resource id or type contains it.
func (r *SQLiteRepository) GetEvents(ctx context.Context, search string, limit int) ([]db.Event, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if search == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, ts, rid, rtype, raw FROM events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		pattern := "%" + search + "%"
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, ts, rid, rtype, raw FROM events
			WHERE raw LIKE ? OR rid LIKE ? OR rtype LIKE ?
			ORDER BY id DESC LIMIT ?`, pattern, pattern, pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return collectSQLiteEvents(rows)
}

func collectSQLiteEvents(rows *sql.Rows) ([]db.Event, error) {
	defer rows.Close()

	var events []db.Event
	for rows.Next() {
		var e db.Event
		var ts, raw string
		if err := rows.Scan(&e.ID, &ts, &e.ResourceID, &e.ResourceType, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var err error
		if e.Timestamp, err = timeparser.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("event %d: %w", e.ID, err)
		}
		e.Raw = []byte(raw)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// GetMaxEventID returns the highest assigned sequence id, or 0 for an empty log
func (r *SQLiteRepository) GetMaxEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query max event id: %w", err)
	}
	return id, nil
}

// DeleteEventsBefore removes events recorded before cutoff
func (r *SQLiteRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, timeparser.FormatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}

// UpsertDevice inserts or updates a catalog entry
func (r *SQLiteRepository) UpsertDevice(ctx context.Context, resourceID, name, deviceType string) error {
	query := `
		INSERT INTO devices (rid, name, type, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (rid) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, resourceID, name, deviceType); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// UpdateLastSeen records ts as the day's last-seen time unless a later one exists
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, resourceID, day string, ts time.Time) error {
	query := `
		INSERT INTO diag (rid, day, last_seen_ts, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (rid, day) DO UPDATE SET
			last_seen_ts = CASE
				WHEN diag.last_seen_ts IS NULL OR excluded.last_seen_ts > diag.last_seen_ts
				THEN excluded.last_seen_ts
				ELSE diag.last_seen_ts
			END,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, resourceID, day, timeparser.FormatTimestamp(ts)); err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// IncrementDisconnects adds one disconnect to the day bucket
func (r *SQLiteRepository) IncrementDisconnects(ctx context.Context, resourceID, day string) error {
	query := `
		INSERT INTO diag (rid, day, disconnects, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (rid, day) DO UPDATE SET
			disconnects = diag.disconnects + 1,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, resourceID, day); err != nil {
		return fmt.Errorf("failed to increment disconnects: %w", err)
	}
	return nil
}

// AddUnreachableMinutes adds downtime to the day bucket; non-positive values are ignored
func (r *SQLiteRepository) AddUnreachableMinutes(ctx context.Context, resourceID, day string, minutes int64) error {
	if minutes <= 0 {
		return nil
	}

	query := `
		INSERT INTO diag (rid, day, minutes_unreachable, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (rid, day) DO UPDATE SET
			minutes_unreachable = diag.minutes_unreachable + excluded.minutes_unreachable,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, resourceID, day, minutes); err != nil {
		return fmt.Errorf("failed to add unreachable minutes: %w", err)
	}
	return nil
}

// SetBatteryLow marks the day's battery-low flag
func (r *SQLiteRepository) SetBatteryLow(ctx context.Context, resourceID, day string) error {
	query := `
		INSERT INTO diag (rid, day, battery_low, updated_at)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (rid, day) DO UPDATE SET
			battery_low = 1,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, resourceID, day); err != nil {
		return fmt.Errorf("failed to set battery low: %w", err)
	}
	return nil
}

// GetDeviceHealth aggregates diagnostics over the inclusive day range
func (r *SQLiteRepository) GetDeviceHealth(ctx context.Context, fromDay, toDay string) ([]db.DeviceHealth, error) {
	query := `
		SELECT d.rid,
		       COALESCE(dev.name, d.rid) AS name,
		       COALESCE(dev.type, 'device') AS type,
		       SUM(d.disconnects) AS disconnects,
		       SUM(d.minutes_unreachable) AS minutes_unreachable,
		       MAX(d.last_seen_ts) AS last_seen_ts,
		       MAX(d.battery_low) AS battery_low
		FROM diag d
		LEFT JOIN devices dev ON dev.rid = d.rid
		WHERE d.day >= ? AND d.day <= ?
		GROUP BY d.rid
		ORDER BY d.rid
	`

	rows, err := r.db.QueryContext(ctx, query, fromDay, toDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query device health: %w", err)
	}
	defer rows.Close()

	var health []db.DeviceHealth
	for rows.Next() {
		var h db.DeviceHealth
		var lastSeen sql.NullString
		var batteryLow int64
		if err := rows.Scan(&h.ResourceID, &h.Name, &h.Type, &h.Disconnects, &h.MinutesUnreachable, &lastSeen, &batteryLow); err != nil {
			return nil, fmt.Errorf("failed to scan device health: %w", err)
		}
		if lastSeen.Valid {
			t, err := timeparser.ParseTimestamp(lastSeen.String)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", h.ResourceID, err)
			}
			h.LastSeen = &t
		}
		h.BatteryLow = batteryLow > 0
		health = append(health, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return health, nil
}

// GetStats returns basic store counters relative to now
func (r *SQLiteRepository) GetStats(ctx context.Context, now time.Time) (db.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(DISTINCT rid) FROM diag WHERE day >= ?),
			(SELECT COUNT(*) FROM events WHERE ts >= ?)
	`

	var s db.Stats
	err := r.db.QueryRowContext(ctx, query,
		timeparser.DayBucket(now.AddDate(0, 0, -7)),
		timeparser.FormatTimestamp(now.Add(-time.Hour)),
	).Scan(&s.TotalEvents, &s.TotalDevices, &s.ActiveDevices7d, &s.EventsLastHour)
	if err != nil {
		return db.Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}
