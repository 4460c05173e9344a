package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// IsSQLiteURL reports whether the database URL selects the embedded SQLite backend.
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "sqlite:") || strings.HasPrefix(databaseURL, "file:")
}

// SQLiteDSN converts a sqlite:/file: URL into a modernc DSN with the pragmas the
// store relies on for concurrent readers and a single writer.
func SQLiteDSN(databaseURL string) string {
	path := databaseURL
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = strings.TrimPrefix(path, "sqlite://")
	case strings.HasPrefix(path, "sqlite:"):
		path = strings.TrimPrefix(path, "sqlite:")
	case strings.HasPrefix(path, "file:"):
		path = strings.TrimPrefix(path, "file:")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// OpenSQLite opens the embedded SQLite database behind a database/sql pool.
func OpenSQLite(databaseURL string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", SQLiteDSN(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to open sqlite database: %w", err)
	}
	return sqlDB, nil
}

// NewSQLite opens the SQLite database and binds it to the fx lifecycle.
func NewSQLite(lc fx.Lifecycle, logger *zap.Logger, databaseURL string) (*sql.DB, error) {
	logger.Info("initializing database connection pool", zap.String("driver", "sqlite"))

	sqlDB, err := OpenSQLite(databaseURL)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				logger.Error("database ping failed", zap.Error(err), zap.String("url", databaseURL))
				return fmt.Errorf("[DATABASE CONNECTION FAILED] cannot open sqlite database. Please check the DATABASE_URL path is writable. Error: %w", err)
			}
			logger.Info("database connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := sqlDB.Close(); err != nil {
				return err
			}
			logger.Info("database connection closed")
			return nil
		},
	})

	return sqlDB, nil
}
