package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kingrea/cadence/internal/execution"
)

// SQLiteStore keeps history in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: ensure sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the persister.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) RecordStepUpdate(ctx context.Context, u execution.StepUpdate) error {
	if u.ExecutionID == "" || u.StepID == "" {
		return fmt.Errorf("store: record step update: execution and step ids are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record step update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO executions (id, routine_id, status, started_at, current_step_index)
		 VALUES (?, ?, ?, ?, 0)`,
		u.ExecutionID, u.RoutineID, string(execution.StatusRunning), formatTime(u.At))
	if err != nil {
		return fmt.Errorf("store: record step update: ensure execution: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO step_updates (execution_id, step_id, status, actual_minutes, notes, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ExecutionID, u.StepID, string(u.Status), u.ActualMinutes, u.Notes, formatTime(u.At))
	if err != nil {
		return fmt.Errorf("store: record step update: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record step update: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveExecution(ctx context.Context, st execution.State) error {
	if st.ID == "" {
		return fmt.Errorf("store: save execution: id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save execution: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   routine_id = excluded.routine_id,
		   status = excluded.status,
		   started_at = excluded.started_at,
		   completed_at = excluded.completed_at,
		   elapsed_seconds = excluded.elapsed_seconds,
		   current_step_index = excluded.current_step_index,
		   total_duration_minutes = excluded.total_duration_minutes`,
		st.ID, st.RoutineID, string(st.Status), formatTime(st.StartedAt), nullableTime(st.CompletedAt),
		st.ElapsedSeconds, st.CurrentStepIndex, st.TotalDurationMinutes)
	if err != nil {
		return fmt.Errorf("store: save execution: upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_records WHERE execution_id = ?`, st.ID); err != nil {
		return fmt.Errorf("store: save execution: clear records: %w", err)
	}
	for i, rec := range st.StepExecutions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_records (execution_id, seq, step_id, status, started_at, completed_at, actual_minutes, notes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, i, rec.StepID, string(rec.Status), formatTime(rec.StartedAt), nullableTime(rec.CompletedAt),
			rec.ActualMinutes, rec.Notes)
		if err != nil {
			return fmt.Errorf("store: save execution: insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save execution: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (execution.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes
		 FROM executions WHERE id = ?`, id)
	st, err := scanSQLiteExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return execution.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return execution.State{}, fmt.Errorf("store: get execution: %w", err)
	}
	if err := s.loadRecords(ctx, &st); err != nil {
		return execution.State{}, err
	}
	return st, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, routineID string, limit int) ([]execution.State, error) {
	query := `SELECT id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes
	          FROM executions`
	var args []any
	if routineID != "" {
		query += ` WHERE routine_id = ?`
		args = append(args, routineID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	defer rows.Close()

	var out []execution.State
	for rows.Next() {
		st, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list executions: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	for i := range out {
		if err := s.loadRecords(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadRecords(ctx context.Context, st *execution.State) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, status, started_at, completed_at, actual_minutes, notes
		 FROM step_records WHERE execution_id = ? ORDER BY seq`, st.ID)
	if err != nil {
		return fmt.Errorf("store: load records: %w", err)
	}
	defer rows.Close()
	st.StepExecutions = []execution.StepRecord{}
	for rows.Next() {
		var (
			rec       execution.StepRecord
			status    string
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&rec.StepID, &status, &started, &completed, &rec.ActualMinutes, &rec.Notes); err != nil {
			return fmt.Errorf("store: load records: scan: %w", err)
		}
		rec.Status = execution.StepStatus(status)
		if rec.StartedAt, err = parseTime(started); err != nil {
			return fmt.Errorf("store: load records: %w", err)
		}
		if rec.CompletedAt, err = parseNullableTime(completed); err != nil {
			return fmt.Errorf("store: load records: %w", err)
		}
		st.StepExecutions = append(st.StepExecutions, rec)
	}
	return rows.Err()
}

// StepUpdates returns the raw update log for an execution, oldest first.
func (s *SQLiteStore) StepUpdates(ctx context.Context, executionID string) ([]execution.StepUpdate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.step_id, u.status, u.actual_minutes, u.notes, u.at, e.routine_id
		 FROM step_updates u JOIN executions e ON e.id = u.execution_id
		 WHERE u.execution_id = ? ORDER BY u.id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: step updates: %w", err)
	}
	defer rows.Close()
	var out []execution.StepUpdate
	for rows.Next() {
		u := execution.StepUpdate{ExecutionID: executionID}
		var status, at string
		if err := rows.Scan(&u.StepID, &status, &u.ActualMinutes, &u.Notes, &at, &u.RoutineID); err != nil {
			return nil, fmt.Errorf("store: step updates: scan: %w", err)
		}
		u.Status = execution.StepStatus(status)
		if u.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("store: step updates: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteExecution(row rowScanner) (execution.State, error) {
	var (
		st        execution.State
		status    string
		started   string
		completed sql.NullString
	)
	err := row.Scan(&st.ID, &st.RoutineID, &status, &started, &completed,
		&st.ElapsedSeconds, &st.CurrentStepIndex, &st.TotalDurationMinutes)
	if err != nil {
		return execution.State{}, err
	}
	st.Status = execution.Status(status)
	if st.StartedAt, err = parseTime(started); err != nil {
		return execution.State{}, err
	}
	if st.CompletedAt, err = parseNullableTime(completed); err != nil {
		return execution.State{}, err
	}
	st.StepExecutions = []execution.StepRecord{}
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
