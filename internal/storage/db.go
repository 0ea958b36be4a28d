package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Repository persists the last booking snapshot and the session event
// journal. Single writer: modernc sqlite with one open connection.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	repo := &Repository{db: db, logger: logger}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS bookings_cache (
			device_id TEXT NOT NULL,
			reservation_id TEXT NOT NULL,
			device_name TEXT NOT NULL,
			user_name TEXT,
			ip_type TEXT NOT NULL,
			status TEXT NOT NULL,
			end_time TEXT NOT NULL,
			device_details_json TEXT NOT NULL,
			PRIMARY KEY (device_id, reservation_id)
		);`,
		`CREATE TABLE IF NOT EXISTS bookings_cache_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			fetched_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at TEXT NOT NULL,
			console_id TEXT NOT NULL,
			window_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT
		);`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	if _, err := r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_session_events_console ON session_events(console_id);`); err != nil {
		return err
	}
	return nil
}
