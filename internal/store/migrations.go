package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{1, "scans table", `
CREATE TABLE IF NOT EXISTS scans (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL UNIQUE,
    code            TEXT NOT NULL,
    suffix          TEXT NOT NULL,
    started_ns      INTEGER NOT NULL,
    ended_ns        INTEGER NOT NULL,
    keystrokes      INTEGER NOT NULL,
    avg_interval_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scans_ended ON scans(ended_ns);`},
	{2, "code index for history lookups", `
CREATE INDEX IF NOT EXISTS idx_scans_code ON scans(code, ended_ns);`},
}

// LatestSchemaVersion is the version a freshly opened store reaches.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// migrate brings db up to LatestSchemaVersion. Each step runs in its own
// transaction together with its schema_migrations row.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_ns INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_ns) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
