package engine

import (
	"time"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

// Snapshot is a read-only copy of the engine state for rendering.
type Snapshot struct {
	Phase      string                   `json:"phase"`
	RoutineID  string                   `json:"routine_id,omitempty"`
	Routine    string                   `json:"routine,omitempty"`
	Steps      []routine.Step           `json:"steps,omitempty"`
	StepIndex  int                      `json:"step_index"`
	Step       *routine.Step            `json:"step,omitempty"`
	Timer      *timer.State             `json:"timer,omitempty"`
	Transition *transition.Presentation `json:"transition,omitempty"`
	// Queued counts cues waiting to be presented.
	Queued     int                      `json:"queued_transitions"`
	Execution  *execution.State         `json:"execution,omitempty"`
	Progress   execution.Progress       `json:"progress"`
	// Last is the most recently finalized execution.
	Last *execution.State `json:"last,omitempty"`
}

// Running reports whether an execution is in progress.
func (s Snapshot) Running() bool { return s.Execution != nil }

// Awaiting reports whether a transition cue is waiting on the user.
func (s Snapshot) Awaiting() bool { return s.Transition != nil }

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{Phase: e.phase.String(), StepIndex: e.index}
	if e.last != nil {
		last := e.last.Clone()
		snap.Last = &last
	}
	if e.state == nil {
		return snap
	}
	snap.RoutineID = e.routine.ID
	snap.Routine = e.routine.DisplayName()
	snap.Steps = make([]routine.Step, len(e.steps))
	for i, step := range e.steps {
		snap.Steps[i] = step.Clone()
	}
	if e.index >= 0 && e.index < len(e.steps) {
		step := e.steps[e.index].Clone()
		snap.Step = &step
	}
	if e.timer != nil {
		state := e.timer.State()
		snap.Timer = &state
	}
	if p, ok := e.queue.Current(); ok {
		snap.Transition = &p
	}
	snap.Queued = e.queue.Len()
	current := e.state.Clone()
	current.Touch(e.clock.Now())
	snap.Execution = &current
	snap.Progress = e.progressLocked()
	return snap
}

// Progress returns the live progress projection. It is zero when idle.
func (e *Engine) Progress() execution.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return execution.Progress{}
	}
	return e.progressLocked()
}

// Current returns the active step, if any.
func (e *Engine) Current() (routine.Step, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != phaseActive {
		return routine.Step{}, false
	}
	return e.steps[e.index].Clone(), true
}

// Transition returns the presented cue, if any.
func (e *Engine) Transition() (transition.Presentation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Current()
}

func (e *Engine) progressLocked() execution.Progress {
	current, elapsed := execution.Idle, e.timerElapsed()
	if e.phase == phaseActive {
		current = e.index
	}
	return execution.ComputeProgress(e.steps, *e.state, current, elapsed)
}

func (e *Engine) timerElapsed() time.Duration {
	if e.timer == nil {
		return 0
	}
	return e.timer.Elapsed()
}
