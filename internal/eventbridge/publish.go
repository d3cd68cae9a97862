package eventbridge

import (
	"encoding/json"
	"sync"

	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/reminder"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

// Publisher turns engine hooks into router events. Step updates carry the
// routine and execution ids; the hooks that follow them in the same run are
// stamped with those ids so per-routine streams stay filtered.
type Publisher struct {
	router *Router
	logger Logger

	mu          sync.Mutex
	routineID   string
	executionID string
}

// NewPublisher publishes onto router.
func NewPublisher(router *Router, logger Logger) *Publisher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Publisher{router: router, logger: logger}
}

// Hooks returns engine hooks that publish every notification. Ticks are
// included; slow subscribers drop them first.
func (p *Publisher) Hooks() engine.Hooks {
	return engine.Hooks{
		OnStepActivated: func(step routine.Step) {
			p.publishRun(EventStepActivated, step.ID, stepPayload(step))
		},
		OnStepComplete: func(step routine.Step, rec execution.StepRecord) {
			p.publishRun(EventStepComplete, step.ID, rec)
		},
		OnStepUpdate: func(u execution.StepUpdate) {
			p.follow(u.RoutineID, u.ExecutionID)
			p.publish(EventStepUpdate, u.RoutineID, u.ExecutionID, u.StepID, u)
		},
		OnTransition: func(pr transition.Presentation) {
			p.publishRun(EventTransition, pr.ToStepID, pr)
		},
		OnTimerWarning: func(step routine.Step, st timer.State) {
			p.publishRun(EventTimerWarning, step.ID, st)
		},
		OnTick: func(step routine.Step, st timer.State) {
			p.publishRun(EventTick, step.ID, st)
		},
		OnQueueOverflow: func(req transition.Request) {
			p.publishRun(EventQueueOverflow, req.ToStepID, map[string]string{
				"request_id": req.ID,
				"from":       req.FromStepID,
				"to":         req.ToStepID,
			})
		},
		OnExecutionComplete: func(st execution.State) {
			p.publish(EventExecutionComplete, st.RoutineID, st.ID, "", st)
		},
	}
}

func (p *Publisher) follow(routineID, executionID string) {
	p.mu.Lock()
	p.routineID, p.executionID = routineID, executionID
	p.mu.Unlock()
}

// publishRun publishes an event belonging to the run last seen in a step
// update.
func (p *Publisher) publishRun(kind, stepID string, payload any) {
	p.mu.Lock()
	routineID, executionID := p.routineID, p.executionID
	p.mu.Unlock()
	p.publish(kind, routineID, executionID, stepID, payload)
}

// RoutineDue publishes a reminder firing.
func (p *Publisher) RoutineDue(due reminder.Due) {
	p.publish(EventRoutineDue, due.RoutineID, "", "", due)
}

// Error publishes a failure that clients should surface.
func (p *Publisher) Error(routineID string, err error) {
	if err == nil {
		return
	}
	p.publish(EventError, routineID, "", "", map[string]string{"error": err.Error()})
}

func (p *Publisher) publish(kind, routineID, executionID, stepID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Printf("eventbridge: encode %s: %v", kind, err)
		return
	}
	p.router.Publish(Event{
		Type:        kind,
		RoutineID:   routineID,
		ExecutionID: executionID,
		StepID:      stepID,
		Payload:     raw,
	})
}

type stepSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Kind            string `json:"kind"`
	DurationMinutes int    `json:"duration_minutes"`
	Order           int    `json:"order"`
}

func stepPayload(step routine.Step) stepSummary {
	return stepSummary{
		ID:              step.ID,
		Title:           step.Title,
		Kind:            string(step.Kind),
		DurationMinutes: step.DurationMinutes,
		Order:           step.Order,
	}
}
