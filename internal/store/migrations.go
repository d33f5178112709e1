package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		state        TEXT NOT NULL DEFAULT 'RUNNING',
		num_app      INTEGER NOT NULL,
		apps         TEXT NOT NULL DEFAULT '[]',
		switches     INTEGER NOT NULL DEFAULT 0,
		halt_reason  TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		kind      TEXT NOT NULL,
		from_task INTEGER NOT NULL DEFAULT -1,
		to_task   INTEGER NOT NULL DEFAULT -1,
		code      INTEGER NOT NULL DEFAULT 0,
		time_us   INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		task_id        INTEGER NOT NULL,
		name           TEXT NOT NULL,
		status         TEXT NOT NULL,
		start_time_us  INTEGER NOT NULL DEFAULT 0,
		syscall_counts TEXT NOT NULL DEFAULT '{}',
		exit_code      INTEGER,
		PRIMARY KEY (run_id, task_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
