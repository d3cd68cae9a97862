package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest SQLite schema version supported by Migrate.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("store: migrate: db is nil")
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("store: migrate: create schema_migrations: %w", err)
	}
	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("store: migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: migrate: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []struct {
		name string
		sql  string
	}{
		{"executions table", `
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				routine_id TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TEXT NOT NULL,
				completed_at TEXT NULL,
				elapsed_seconds INTEGER NOT NULL DEFAULT 0,
				current_step_index INTEGER NOT NULL DEFAULT 0,
				total_duration_minutes INTEGER NOT NULL DEFAULT 0
			);`},
		{"step_records table", `
			CREATE TABLE IF NOT EXISTS step_records (
				execution_id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				step_id TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at TEXT NOT NULL,
				completed_at TEXT NULL,
				actual_minutes INTEGER NOT NULL DEFAULT 0,
				notes TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (execution_id, seq),
				FOREIGN KEY(execution_id) REFERENCES executions(id)
			);`},
		{"step_updates table", `
			CREATE TABLE IF NOT EXISTS step_updates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				status TEXT NOT NULL,
				actual_minutes INTEGER NOT NULL DEFAULT 0,
				notes TEXT NOT NULL DEFAULT '',
				at TEXT NOT NULL,
				FOREIGN KEY(execution_id) REFERENCES executions(id)
			);`},
		{"idx_executions_routine_started", `CREATE INDEX IF NOT EXISTS idx_executions_routine_started ON executions(routine_id, started_at);`},
		{"idx_step_updates_execution", `CREATE INDEX IF NOT EXISTS idx_step_updates_execution ON step_updates(execution_id, id);`},
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("store: migrate: create %s: %w", stmt.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion); err != nil {
		return fmt.Errorf("store: migrate: record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: migrate: commit transaction: %w", err)
	}
	return nil
}
