package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kingrea/cadence/internal/execution"
)

// PostgresStore keeps history in PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, verifies the connection and creates
// the schema when missing.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			routine_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NULL,
			elapsed_seconds BIGINT NOT NULL DEFAULT 0,
			current_step_index INTEGER NOT NULL DEFAULT 0,
			total_duration_minutes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS step_records (
			execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NULL,
			actual_minutes INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (execution_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS step_updates (
			id BIGSERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			actual_minutes INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_routine_started ON executions(routine_id, started_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate postgres: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordStepUpdate(ctx context.Context, u execution.StepUpdate) error {
	if u.ExecutionID == "" || u.StepID == "" {
		return fmt.Errorf("store: record step update: execution and step ids are required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: record step update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO executions (id, routine_id, status, started_at, current_step_index)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (id) DO NOTHING`,
		u.ExecutionID, u.RoutineID, string(execution.StatusRunning), u.At.UTC())
	if err != nil {
		return fmt.Errorf("store: record step update: ensure execution: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO step_updates (execution_id, step_id, status, actual_minutes, notes, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ExecutionID, u.StepID, string(u.Status), u.ActualMinutes, u.Notes, u.At.UTC())
	if err != nil {
		return fmt.Errorf("store: record step update: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: record step update: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveExecution(ctx context.Context, st execution.State) error {
	if st.ID == "" {
		return fmt.Errorf("store: save execution: id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: save execution: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO executions (id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   routine_id = EXCLUDED.routine_id,
		   status = EXCLUDED.status,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   elapsed_seconds = EXCLUDED.elapsed_seconds,
		   current_step_index = EXCLUDED.current_step_index,
		   total_duration_minutes = EXCLUDED.total_duration_minutes`,
		st.ID, st.RoutineID, string(st.Status), st.StartedAt.UTC(), utcPtr(st.CompletedAt),
		st.ElapsedSeconds, st.CurrentStepIndex, st.TotalDurationMinutes)
	if err != nil {
		return fmt.Errorf("store: save execution: upsert: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM step_records WHERE execution_id = $1`, st.ID); err != nil {
		return fmt.Errorf("store: save execution: clear records: %w", err)
	}
	batch := &pgx.Batch{}
	for i, rec := range st.StepExecutions {
		batch.Queue(
			`INSERT INTO step_records (execution_id, seq, step_id, status, started_at, completed_at, actual_minutes, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			st.ID, i, rec.StepID, string(rec.Status), rec.StartedAt.UTC(), utcPtr(rec.CompletedAt), rec.ActualMinutes, rec.Notes)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("store: save execution: insert records: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: save execution: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (execution.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes
		 FROM executions WHERE id = $1`, id)
	st, err := scanPostgresExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return execution.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return execution.State{}, fmt.Errorf("store: get execution: %w", err)
	}
	if err := s.loadRecords(ctx, &st); err != nil {
		return execution.State{}, err
	}
	return st, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, routineID string, limit int) ([]execution.State, error) {
	query := `SELECT id, routine_id, status, started_at, completed_at, elapsed_seconds, current_step_index, total_duration_minutes
	          FROM executions`
	var args []any
	if routineID != "" {
		args = append(args, routineID)
		query += fmt.Sprintf(` WHERE routine_id = $%d`, len(args))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	var out []execution.State
	for rows.Next() {
		st, err := scanPostgresExecution(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: list executions: scan: %w", err)
		}
		out = append(out, st)
	}
	rows.Close()
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

func (s *PostgresStore) loadRecords(ctx context.Context, st *execution.State) error {
	rows, err := s.pool.Query(ctx,
		`SELECT step_id, status, started_at, completed_at, actual_minutes, notes
		 FROM step_records WHERE execution_id = $1 ORDER BY seq`, st.ID)
	if err != nil {
		return fmt.Errorf("store: load records: %w", err)
	}
	defer rows.Close()
	st.StepExecutions = []execution.StepRecord{}
	for rows.Next() {
		var (
			rec    execution.StepRecord
			status string
		)
		if err := rows.Scan(&rec.StepID, &status, &rec.StartedAt, &rec.CompletedAt, &rec.ActualMinutes, &rec.Notes); err != nil {
			return fmt.Errorf("store: load records: scan: %w", err)
		}
		rec.Status = execution.StepStatus(status)
		st.StepExecutions = append(st.StepExecutions, rec)
	}
	return rows.Err()
}

func scanPostgresExecution(row pgx.Row) (execution.State, error) {
	var (
		st     execution.State
		status string
	)
	err := row.Scan(&st.ID, &st.RoutineID, &status, &st.StartedAt, &st.CompletedAt,
		&st.ElapsedSeconds, &st.CurrentStepIndex, &st.TotalDurationMinutes)
	if err != nil {
		return execution.State{}, err
	}
	st.Status = execution.Status(status)
	st.StepExecutions = []execution.StepRecord{}
	return st, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
