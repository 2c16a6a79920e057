package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds job store connection settings.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Open opens (or creates) the sqlite job store and ensures the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, error) {
	logger.Info("opening job store", "path", cfg.Path)
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
	// churn under concurrent workers.
	db.SetMaxOpenConns(1)

	busyMs := cfg.BusyTimeout.Milliseconds()
	if busyMs <= 0 {
		busyMs = 5000
	}
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		fmt.Sprintf(`PRAGMA busy_timeout=%d;`, busyMs),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Info("job store ready")
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS export_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('QUEUED','PROCESSING','READY','FAILED','EXPIRED')),
		date_range TEXT NOT NULL,
		include_files INTEGER NOT NULL DEFAULT 0,
		include_pii INTEGER NOT NULL DEFAULT 0,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		current_module TEXT NOT NULL DEFAULT '',
		artifact_ref TEXT,
		file_size_bytes INTEGER,
		error_message TEXT,
		claimed_by TEXT,
		heartbeat_at INTEGER,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_export_jobs_tenant_created ON export_jobs(tenant_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_export_jobs_status_expires ON export_jobs(status, expires_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}
