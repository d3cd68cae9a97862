package transition

import (
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/cadence/internal/routine"
)

// Priority orders pending requests.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

func (p Priority) rank() int {
	if p == PriorityHigh {
		return 1
	}
	return 0
}

// PriorityFor derives the priority of a cue: required cues are high.
func PriorityFor(cue routine.Cue) Priority {
	if cue.Required {
		return PriorityHigh
	}
	return PriorityNormal
}

// Outcome records how a request left the queue.
type Outcome string

const (
	OutcomeAcknowledged  Outcome = "acknowledged"
	OutcomeDismissed     Outcome = "dismissed"
	OutcomeAutoDismissed Outcome = "auto_dismissed"
	OutcomeFailed        Outcome = "failed"
	OutcomeDropped       Outcome = "dropped"
)

// Request wraps a cue shown between two steps.
type Request struct {
	ID         string
	Cue        routine.Cue
	FromStepID string
	ToStepID   string
	Priority   Priority
	ArrivedAt  time.Time

	OnComplete func(Request)
	OnDismiss  func(Request)
	OnError    func(Request, error)
}

// NewRequest builds a request with a fresh id and a priority derived from
// the cue.
func NewRequest(cue routine.Cue, fromStepID, toStepID string, arrivedAt time.Time) Request {
	return Request{
		ID:         uuid.NewString(),
		Cue:        cue,
		FromStepID: fromStepID,
		ToStepID:   toStepID,
		Priority:   PriorityFor(cue),
		ArrivedAt:  arrivedAt,
	}
}

// Dismissible reports whether the user may dismiss without acknowledging.
func (r Request) Dismissible() bool {
	return !r.Cue.Required
}

// Presentation is what a transition surface needs to render a request.
type Presentation struct {
	RequestID   string        `json:"request_id"`
	Cue         routine.Cue   `json:"cue"`
	FromStepID  string        `json:"from_step_id"`
	ToStepID    string        `json:"to_step_id"`
	Priority    Priority      `json:"priority"`
	Dismissible bool          `json:"dismissible"`
	AutoDismiss time.Duration `json:"auto_dismiss,omitempty"`
	PresentedAt time.Time     `json:"presented_at"`
}

func (r Request) presentation(at time.Time) Presentation {
	return Presentation{
		RequestID:   r.ID,
		Cue:         r.Cue,
		FromStepID:  r.FromStepID,
		ToStepID:    r.ToStepID,
		Priority:    r.Priority,
		Dismissible: r.Dismissible(),
		AutoDismiss: r.Cue.AutoDismiss(),
		PresentedAt: at,
	}
}
