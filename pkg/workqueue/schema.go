package workqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the work_items schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS work_items (
			kind TEXT NOT NULL,
			-- subject is '' for single-subject kinds.
			subject TEXT NOT NULL DEFAULT '',
			-- snapshot_date is stored as YYYY-MM-DD.
			snapshot_date TEXT NOT NULL,
			progress TEXT NOT NULL DEFAULT 'unknown',
			can_archive INTEGER NOT NULL DEFAULT 0,
			is_archived INTEGER NOT NULL DEFAULT 0,
			is_checked INTEGER NOT NULL DEFAULT 0,
			claimed_by TEXT,
			claimed_at TEXT,
			comments TEXT,
			PRIMARY KEY (kind, subject, snapshot_date)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_eligible
			ON work_items(kind, progress, can_archive, is_archived, is_checked);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_claimed_by ON work_items(claimed_by);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: claimed_at records when a claim was taken (informational only).
	if current < 2 {
		alters := []string{
			`ALTER TABLE work_items ADD COLUMN claimed_at TEXT;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
