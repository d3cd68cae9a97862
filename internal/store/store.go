// Package store persists execution history. The engine performs no I/O;
// hosts forward its step updates and finished executions here, usually
// through a Persister.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/cadence/internal/config"
	"github.com/kingrea/cadence/internal/execution"
)

// ErrNotFound is returned when an execution id is unknown.
var ErrNotFound = errors.New("store: execution not found")

// Store is implemented by every history backend.
type Store interface {
	// RecordStepUpdate appends a step mutation and makes sure the owning
	// execution row exists.
	RecordStepUpdate(ctx context.Context, u execution.StepUpdate) error
	// SaveExecution upserts the execution and replaces its step records.
	SaveExecution(ctx context.Context, s execution.State) error
	GetExecution(ctx context.Context, id string) (execution.State, error)
	// ListExecutions returns the newest executions first. An empty
	// routineID lists every routine; limit <= 0 means no limit.
	ListExecutions(ctx context.Context, routineID string, limit int) ([]execution.State, error)
	Close() error
}

// Open returns the backend selected by cfg.Project.Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: config is required")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Project.Store.Driver))
	switch driver {
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.StoreDSN())
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.StoreDSN())
	case config.DriverNone, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
