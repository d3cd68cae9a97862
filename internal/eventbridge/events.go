package eventbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// EventSchemaVersion is the version stamped on outbound events.
	EventSchemaVersion = 1
)

// Event types published on /events.
const (
	EventStepActivated     = "step_activated"
	EventStepComplete      = "step_complete"
	EventStepUpdate        = "step_update"
	EventTransition        = "transition"
	EventTimerWarning      = "timer_warning"
	EventTick              = "tick"
	EventQueueOverflow     = "queue_overflow"
	EventExecutionComplete = "execution_complete"
	EventRoutineDue        = "routine_due"
	EventError             = "error"
)

// Event is one engine notification as streamed to clients.
type Event struct {
	Version     int             `json:"version"`
	EventID     string          `json:"event_id"`
	Sequence    int64           `json:"sequence"`
	Type        string          `json:"type"`
	ServerTime  time.Time       `json:"server_time"`
	RoutineID   string          `json:"routine_id,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	StepID      string          `json:"step_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Normalize applies defaults and canonical formatting.
func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Version == 0 {
		e.Version = EventSchemaVersion
	}
	e.EventID = strings.TrimSpace(e.EventID)
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.RoutineID = strings.TrimSpace(e.RoutineID)
	e.ExecutionID = strings.TrimSpace(e.ExecutionID)
	e.StepID = strings.TrimSpace(e.StepID)
}

// StampServerTime overwrites ServerTime with the supplied clock reading (UTC).
func (e *Event) StampServerTime(now time.Time) {
	if e == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.ServerTime = now.UTC()
}

// Command actions accepted by POST /commands.
const (
	ActionStartTimer  = "start_timer"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionComplete    = "complete"
	ActionSkip        = "skip"
	ActionStop        = "stop"
	ActionGoTo        = "goto"
	ActionAcknowledge = "acknowledge"
	ActionDismiss     = "dismiss"
	ActionPresentNext = "present_next"
)

var validate = validator.New()

// Command is a control request from a bridge client.
type Command struct {
	Action        string `json:"action" validate:"required,oneof=start_timer pause resume complete skip stop goto acknowledge dismiss present_next"`
	StepIndex     *int   `json:"step_index,omitempty" validate:"omitempty,min=0"`
	RequestID     string `json:"request_id,omitempty" validate:"omitempty,max=64"`
	Reason        string `json:"reason,omitempty" validate:"omitempty,max=500"`
	ActualMinutes *int   `json:"actual_minutes,omitempty" validate:"omitempty,min=0,max=1440"`
	Notes         string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// Normalize trims string fields and lowercases the action.
func (c *Command) Normalize() {
	c.Action = strings.ToLower(strings.TrimSpace(c.Action))
	c.RequestID = strings.TrimSpace(c.RequestID)
	c.Reason = strings.TrimSpace(c.Reason)
	c.Notes = strings.TrimSpace(c.Notes)
}

// Validate enforces field constraints. goto requires step_index.
func (c Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	if c.Action == ActionGoTo && c.StepIndex == nil {
		return errors.New("step_index is required for goto")
	}
	return nil
}

// Controller is the engine surface the bridge drives. *engine.Engine
// satisfies it.
type Controller interface {
	Snapshot() engine.Snapshot
	Transition() (transition.Presentation, bool)
	StartTimer() error
	Pause() error
	Resume() error
	Stop() error
	CompleteCurrentStep(opts ...engine.CompleteOption) error
	SkipCurrentStep(reason string) error
	GoToStep(index int) error
	AcknowledgeTransition(id string) error
	DismissTransition(id string) error
	PresentNextTransition() error
}

var errNoTransition = errors.New("no transition is presented")

// Execute applies cmd to ctrl. acknowledge and dismiss target the presented
// cue when request_id is empty.
func Execute(ctrl Controller, cmd Command) error {
	switch cmd.Action {
	case ActionStartTimer:
		return ctrl.StartTimer()
	case ActionPause:
		return ctrl.Pause()
	case ActionResume:
		return ctrl.Resume()
	case ActionStop:
		return ctrl.Stop()
	case ActionComplete:
		var opts []engine.CompleteOption
		if cmd.ActualMinutes != nil {
			opts = append(opts, engine.WithActualDuration(time.Duration(*cmd.ActualMinutes)*time.Minute))
		}
		if cmd.Notes != "" {
			opts = append(opts, engine.WithNotes(cmd.Notes))
		}
		return ctrl.CompleteCurrentStep(opts...)
	case ActionSkip:
		return ctrl.SkipCurrentStep(cmd.Reason)
	case ActionGoTo:
		if cmd.StepIndex == nil {
			return errors.New("step_index is required for goto")
		}
		return ctrl.GoToStep(*cmd.StepIndex)
	case ActionPresentNext:
		return ctrl.PresentNextTransition()
	case ActionAcknowledge, ActionDismiss:
		id := cmd.RequestID
		if id == "" {
			current, ok := ctrl.Transition()
			if !ok {
				return errNoTransition
			}
			id = current.RequestID
		}
		if cmd.Action == ActionAcknowledge {
			return ctrl.AcknowledgeTransition(id)
		}
		return ctrl.DismissTransition(id)
	}
	return fmt.Errorf("unknown action %q", cmd.Action)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"subscribers"`
	RoutineID     string `json:"routine_id,omitempty"`
}

type progressResponse struct {
	Phase     string             `json:"phase"`
	RoutineID string             `json:"routine_id,omitempty"`
	Routine   string             `json:"routine,omitempty"`
	StepIndex int                `json:"step_index"`
	StepID    string             `json:"step_id,omitempty"`
	StepTitle string             `json:"step_title,omitempty"`
	Timer     *timer.State       `json:"timer,omitempty"`
	Progress  execution.Progress `json:"progress"`
	Execution *execution.State   `json:"execution,omitempty"`
	Last      *execution.State   `json:"last,omitempty"`
	Awaiting  bool               `json:"awaiting_transition"`
	Queued    int                `json:"queued_transitions"`
}

func progressFrom(snap engine.Snapshot) progressResponse {
	resp := progressResponse{
		Phase:     snap.Phase,
		RoutineID: snap.RoutineID,
		Routine:   snap.Routine,
		StepIndex: snap.StepIndex,
		Progress:  snap.Progress,
		Execution: snap.Execution,
		Last:      snap.Last,
		Timer:     snap.Timer,
		Awaiting:  snap.Awaiting(),
		Queued:    snap.Queued,
	}
	if snap.Step != nil {
		resp.StepID = snap.Step.ID
		resp.StepTitle = snap.Step.Title
	}
	return resp
}

type commandResponse struct {
	Status   string           `json:"status"`
	Action   string           `json:"action"`
	Progress progressResponse `json:"progress"`
}
