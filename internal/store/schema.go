package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the newest schema this build understands.
const SchemaVersion = 1

// migration moves the database from version-1 to version.
type migration struct {
	version int
	stmts   string
}

var migrations = []migration{
	{
		version: 1,
		stmts: `
CREATE TABLE IF NOT EXISTS experiments (
    id            TEXT PRIMARY KEY,
    batch_id      TEXT NOT NULL,
    batch_type    TEXT,
    timestamp     TEXT NOT NULL,
    ph_final      REAL NOT NULL,
    ph_slope      REAL NOT NULL,
    temp_mean     REAL NOT NULL,
    temp_std      REAL NOT NULL,
    color_peak    REAL NOT NULL,
    weight_loss   REAL NOT NULL,
    ground_truth  REAL NOT NULL,
    pred_capacity REAL NOT NULL,
    outcome       TEXT,
    stop_reason   TEXT,
    duration_min  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_experiments_timestamp ON experiments(timestamp);
CREATE INDEX IF NOT EXISTS idx_experiments_batch ON experiments(batch_id);`,
	},
}

// InitSchema brings db up to SchemaVersion. A database written by a newer
// build is rejected rather than modified.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migrating to schema version %d: %w", m.version, err)
		}
	}
	return nil
}

// schemaVersion returns the highest applied version, or 0 for a new database.
func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(v.Int64), nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmts); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}
