package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/hue-event-logger/internal/db"
	"github.com/septivank/hue-event-logger/tools/timeparser"
)

// Store is the durable event log, device catalog and diagnostics table.
// Implementations hand every caller its own pooled connection.
type Store interface {
	EnsureSchema(ctx context.Context) error

	InsertEvent(ctx context.Context, ts time.Time, resourceID, resourceType string, raw []byte) (int64, error)
	GetEventsSinceID(ctx context.Context, cursor int64) ([]db.Event, error)
	GetMaxEventID(ctx context.Context) (int64, error)
	GetEvents(ctx context.Context, search string, limit int) ([]db.Event, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertDevice(ctx context.Context, resourceID, name, deviceType string) error

	UpdateLastSeen(ctx context.Context, resourceID, day string, ts time.Time) error
	IncrementDisconnects(ctx context.Context, resourceID, day string) error
	AddUnreachableMinutes(ctx context.Context, resourceID, day string, minutes int64) error
	SetBatteryLow(ctx context.Context, resourceID, day string) error

	GetDeviceHealth(ctx context.Context, fromDay, toDay string) ([]db.DeviceHealth, error)
	GetStats(ctx context.Context, now time.Time) (db.Stats, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*SQLiteRepository)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         BIGSERIAL PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	rid        TEXT NOT NULL,
	rtype      TEXT NOT NULL,
	raw        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS devices (
	rid        TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS diag (
	rid                 TEXT NOT NULL,
	day                 DATE NOT NULL,
	disconnects         BIGINT NOT NULL DEFAULT 0,
	minutes_unreachable BIGINT NOT NULL DEFAULT 0,
	last_seen_ts        TIMESTAMPTZ,
	battery_low         BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (rid, day)
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_rid ON events(rid);
CREATE INDEX IF NOT EXISTS idx_events_rtype ON events(rtype);
CREATE INDEX IF NOT EXISTS idx_diag_day ON diag(day);
`

// Repository is the PostgreSQL Store
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertEvent appends an event and returns its sequence id
func (r *Repository) InsertEvent(ctx context.Context, ts time.Time, resourceID, resourceType string, raw []byte) (int64, error) {
	query := `
		INSERT INTO events (ts, rid, rtype, raw)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	if err := r.pool.QueryRow(ctx, query, ts.UTC(), resourceID, resourceType, raw).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// GetEventsSinceID returns events with id greater than cursor in ascending id order
func (r *Repository) GetEventsSinceID(ctx context.Context, cursor int64) ([]db.Event, error) {
	query := `
		SELECT id, ts, rid, rtype, raw
		FROM events
		WHERE id > $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return collectEvents(rows)
}

// GetEvents returns the newest events first, at most limit of them. A
// non-empty search keeps events whose payload, resource id or type contains it.
func (r *Repository) GetEvents(ctx context.Context, search string, limit int) ([]db.Event, error) {
	query := `
		SELECT id, ts, rid, rtype, raw
		FROM events
		ORDER BY id DESC
		LIMIT $1
	`
	args := []any{limit}
	if search != "" {
		query = `
			SELECT id, ts, rid, rtype, raw
			FROM events
			WHERE raw::text ILIKE $2 OR rid ILIKE $2 OR rtype ILIKE $2
			ORDER BY id DESC
			LIMIT $1
		`
		args = append(args, "%"+search+"%")
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]db.Event, error) {
	defer rows.Close()

	var events []db.Event
	for rows.Next() {
		var e db.Event
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ResourceID, &e.ResourceType, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Raw = raw
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// GetMaxEventID returns the highest assigned sequence id, or 0 for an empty log
func (r *Repository) GetMaxEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query max event id: %w", err)
	}
	return id, nil
}

// DeleteEventsBefore removes events recorded before cutoff
func (r *Repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE ts < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertDevice inserts or updates a catalog entry
func (r *Repository) UpsertDevice(ctx context.Context, resourceID, name, deviceType string) error {
	query := `
		INSERT INTO devices (rid, name, type, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (rid) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, resourceID, name, deviceType); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// UpdateLastSeen records ts as the day's last-seen time unless a later one exists
func (r *Repository) UpdateLastSeen(ctx context.Context, resourceID, day string, ts time.Time) error {
	query := `
		INSERT INTO diag (rid, day, last_seen_ts, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (rid, day) DO UPDATE SET
			last_seen_ts = GREATEST(diag.last_seen_ts, EXCLUDED.last_seen_ts),
			updated_at = now()
	`

	return r.execDiag(ctx, "update last seen", query, resourceID, day, ts.UTC())
}

// IncrementDisconnects adds one disconnect to the day bucket
func (r *Repository) IncrementDisconnects(ctx context.Context, resourceID, day string) error {
	query := `
		INSERT INTO diag (rid, day, disconnects, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (rid, day) DO UPDATE SET
			disconnects = diag.disconnects + 1,
			updated_at = now()
	`

	return r.execDiag(ctx, "increment disconnects", query, resourceID, day)
}

// AddUnreachableMinutes adds downtime to the day bucket; non-positive values are ignored
func (r *Repository) AddUnreachableMinutes(ctx context.Context, resourceID, day string, minutes int64) error {
	if minutes <= 0 {
		return nil
	}

	query := `
		INSERT INTO diag (rid, day, minutes_unreachable, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (rid, day) DO UPDATE SET
			minutes_unreachable = diag.minutes_unreachable + EXCLUDED.minutes_unreachable,
			updated_at = now()
	`

	return r.execDiag(ctx, "add unreachable minutes", query, resourceID, day, minutes)
}

// SetBatteryLow marks the day's battery-low flag
func (r *Repository) SetBatteryLow(ctx context.Context, resourceID, day string) error {
	query := `
		INSERT INTO diag (rid, day, battery_low, updated_at)
		VALUES ($1, $2, TRUE, now())
		ON CONFLICT (rid, day) DO UPDATE SET
			battery_low = TRUE,
			updated_at = now()
	`

	return r.execDiag(ctx, "set battery low", query, resourceID, day)
}

// execDiag runs a diag upsert whose second argument is the day key.
func (r *Repository) execDiag(ctx context.Context, op, query, resourceID, day string, args ...any) error {
	dayDate, err := timeparser.ParseDay(day)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	params := append([]any{resourceID, dayDate}, args...)
	if _, err := r.pool.Exec(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

// GetDeviceHealth aggregates diagnostics over the inclusive day range
func (r *Repository) GetDeviceHealth(ctx context.Context, fromDay, toDay string) ([]db.DeviceHealth, error) {
	from, err := timeparser.ParseDay(fromDay)
	if err != nil {
		return nil, err
	}
	to, err := timeparser.ParseDay(toDay)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT d.rid,
		       COALESCE(dev.name, d.rid) AS name,
		       COALESCE(dev.type, 'device') AS type,
		       SUM(d.disconnects)::bigint AS disconnects,
		       SUM(d.minutes_unreachable)::bigint AS minutes_unreachable,
		       MAX(d.last_seen_ts) AS last_seen_ts,
		       BOOL_OR(d.battery_low) AS battery_low
		FROM diag d
		LEFT JOIN devices dev ON dev.rid = d.rid
		WHERE d.day BETWEEN $1 AND $2
		GROUP BY d.rid, dev.name, dev.type
		ORDER BY d.rid
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query device health: %w", err)
	}
	defer rows.Close()

	var health []db.DeviceHealth
	for rows.Next() {
		var h db.DeviceHealth
		if err := rows.Scan(&h.ResourceID, &h.Name, &h.Type, &h.Disconnects, &h.MinutesUnreachable, &h.LastSeen, &h.BatteryLow); err != nil {
			return nil, fmt.Errorf("failed to scan device health: %w", err)
		}
		if h.LastSeen != nil {
			utc := h.LastSeen.UTC()
			h.LastSeen = &utc
		}
		health = append(health, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return health, nil
}

// GetStats returns basic store counters relative to now
func (r *Repository) GetStats(ctx context.Context, now time.Time) (db.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(DISTINCT rid) FROM diag WHERE day >= $1),
			(SELECT COUNT(*) FROM events WHERE ts >= $2)
	`

	weekAgo, _ := timeparser.ParseDay(timeparser.DayBucket(now.AddDate(0, 0, -7)))

	var s db.Stats
	err := r.pool.QueryRow(ctx, query, weekAgo, now.Add(-time.Hour).UTC()).Scan(
		&s.TotalEvents,
		&s.TotalDevices,
		&s.ActiveDevices7d,
		&s.EventsLastHour,
	)
	if err != nil {
		return db.Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}
