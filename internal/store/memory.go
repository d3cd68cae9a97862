package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/cadence/internal/execution"
)

// MemoryStore keeps history in process memory (driver "none" and tests).
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]execution.State
	updates    map[string][]execution.StepUpdate
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]execution.State),
		updates:    make(map[string][]execution.StepUpdate),
	}
}

func (m *MemoryStore) RecordStepUpdate(_ context.Context, u execution.StepUpdate) error {
	if u.ExecutionID == "" || u.StepID == "" {
		return fmt.Errorf("store: record step update: execution and step ids are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[u.ExecutionID]; !ok {
		m.executions[u.ExecutionID] = execution.State{
			ID:             u.ExecutionID,
			RoutineID:      u.RoutineID,
			StartedAt:      u.At,
			Status:         execution.StatusRunning,
			StepExecutions: []execution.StepRecord{},
		}
	}
	m.updates[u.ExecutionID] = append(m.updates[u.ExecutionID], u)
	return nil
}

func (m *MemoryStore) SaveExecution(_ context.Context, s execution.State) error {
	if s.ID == "" {
		return fmt.Errorf("store: save execution: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (execution.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.executions[id]
	if !ok {
		return execution.State{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, routineID string, limit int) ([]execution.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []execution.State
	for _, s := range m.executions {
		if routineID == "" || s.RoutineID == routineID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StepUpdates returns the updates recorded for an execution, oldest first.
func (m *MemoryStore) StepUpdates(_ context.Context, executionID string) ([]execution.StepUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]execution.StepUpdate(nil), m.updates[executionID]...), nil
}

func (m *MemoryStore) Close() error { return nil }
