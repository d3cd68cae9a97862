package execution

import (
	"time"

	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
)

// Progress is the continuously readable projection of a run.
type Progress struct {
	CompletedSteps            int     `json:"completed_steps"`
	TotalSteps                int     `json:"total_steps"`
	EstimatedRemainingMinutes int     `json:"estimated_remaining_minutes"`
	ActualSpentMinutes        int     `json:"actual_spent_minutes"`
	Percentage                float64 `json:"percentage"`
}

// ComputeProgress projects s against the ordered steps. current is the
// index of the active step and elapsed its live timer reading; pass
// Idle when no step is active.
func ComputeProgress(steps []routine.Step, s State, current int, elapsed time.Duration) Progress {
	p := Progress{TotalSteps: len(steps)}
	resolved := s.Resolved()
	for _, rec := range s.StepExecutions {
		p.ActualSpentMinutes += rec.ActualMinutes
	}

	var remaining time.Duration
	for i, step := range steps {
		if _, done := resolved[step.ID]; done {
			p.CompletedSteps++
			continue
		}
		planned := step.Planned()
		if i == current {
			planned -= elapsed
			if planned < 0 {
				planned = 0
			}
		}
		remaining += planned
	}
	if current >= 0 && current < len(steps) {
		if _, done := resolved[steps[current].ID]; !done {
			p.ActualSpentMinutes += timer.MinutesCeil(elapsed)
		}
	}
	p.EstimatedRemainingMinutes = timer.MinutesCeil(remaining)
	if p.TotalSteps > 0 {
		p.Percentage = float64(p.CompletedSteps) / float64(p.TotalSteps) * 100
	}
	return p
}
