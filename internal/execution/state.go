// Package execution holds the durable record of one routine run: the
// append-only list of step outcomes and the progress projection derived
// from it.
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/cadence/internal/timer"
)

// Idle is the current step index of an execution that has not started.
const Idle = -1

// Status is the lifecycle of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// StepStatus is the outcome of one step activation.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
)

// Resolved reports whether the status closes the step.
func (s StepStatus) Resolved() bool {
	return s == StepCompleted || s == StepSkipped
}

// StepRecord is one appended step outcome.
type StepRecord struct {
	StepID        string     `json:"step_id"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ActualMinutes int        `json:"actual_minutes"`
	Status        StepStatus `json:"status"`
	Notes         string     `json:"notes,omitempty"`
}

// State is the record of one run.
type State struct {
	ID                   string       `json:"id"`
	RoutineID            string       `json:"routine_id"`
	StartedAt            time.Time    `json:"started_at"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
	StepExecutions       []StepRecord `json:"step_executions"`
	ElapsedSeconds       int64        `json:"elapsed_seconds"`
	CurrentStepIndex     int          `json:"current_step_index"`
	TotalDurationMinutes int          `json:"total_duration_minutes"`
	Status               Status       `json:"status"`
}

// New starts a fresh execution of routineID.
func New(routineID string, now time.Time) *State {
	return &State{
		ID:               uuid.NewString(),
		RoutineID:        routineID,
		StartedAt:        now,
		StepExecutions:   []StepRecord{},
		CurrentStepIndex: 0,
		Status:           StatusRunning,
	}
}

// Append adds a step outcome. Records are never rewritten.
func (s *State) Append(rec StepRecord) {
	s.StepExecutions = append(s.StepExecutions, rec)
}

// Finalize closes the execution as of now. Total duration is measured on
// the wall clock and reported in minutes rounded up.
func (s *State) Finalize(now time.Time, status Status) {
	if s.CompletedAt != nil {
		return
	}
	elapsed := s.setElapsed(now)
	at := now
	s.CompletedAt = &at
	s.TotalDurationMinutes = timer.MinutesCeil(elapsed)
	s.Status = status
}

// Touch refreshes ElapsedSeconds from the wall clock. A finalized execution
// keeps its figures.
func (s *State) Touch(now time.Time) {
	if s.CompletedAt != nil {
		return
	}
	s.setElapsed(now)
}

func (s *State) setElapsed(now time.Time) time.Duration {
	elapsed := now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	s.ElapsedSeconds = int64(elapsed / time.Second)
	return elapsed
}

// Finished reports whether the execution has been finalized.
func (s State) Finished() bool {
	return s.CompletedAt != nil
}

// Resolved counts the distinct steps that were completed or skipped.
func (s State) Resolved() map[string]StepRecord {
	out := make(map[string]StepRecord, len(s.StepExecutions))
	for _, rec := range s.StepExecutions {
		if rec.Status.Resolved() {
			out[rec.StepID] = rec
		}
	}
	return out
}

// Count returns how many records carry status.
func (s State) Count(status StepStatus) int {
	n := 0
	for _, rec := range s.StepExecutions {
		if rec.Status == status {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s State) Clone() State {
	out := s
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		out.CompletedAt = &at
	}
	out.StepExecutions = make([]StepRecord, len(s.StepExecutions))
	for i, rec := range s.StepExecutions {
		if rec.CompletedAt != nil {
			at := *rec.CompletedAt
			rec.CompletedAt = &at
		}
		out.StepExecutions[i] = rec
	}
	return out
}

// StepUpdate is the partial mutation handed to the persistence layer each
// time a step record changes.
type StepUpdate struct {
	ExecutionID   string     `json:"execution_id"`
	RoutineID     string     `json:"routine_id"`
	StepID        string     `json:"step_id"`
	Status        StepStatus `json:"status"`
	ActualMinutes int        `json:"actual_minutes"`
	Notes         string     `json:"notes,omitempty"`
	At            time.Time  `json:"at"`
}
