package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

type event interface{ name() string }

type (
	startEvent       struct{ routine routine.Routine }
	pauseEvent       struct{}
	resumeEvent      struct{}
	startTimerEvent  struct{}
	stopEvent        struct{}
	gotoEvent        struct{ index int }
	acknowledgeEvent struct{ id string }
	dismissEvent     struct{ id string }
	presentNextEvent struct{}
	failEvent        struct {
		id    string
		cause error
	}
	completeEvent struct {
		actual *time.Duration
		notes  string
	}
	skipEvent struct{ reason string }
	tickEvent struct{ gen int64 }
)

func (startEvent) name() string       { return "start" }
func (pauseEvent) name() string       { return "pause" }
func (resumeEvent) name() string      { return "resume" }
func (startTimerEvent) name() string  { return "start_timer" }
func (stopEvent) name() string        { return "stop" }
func (gotoEvent) name() string        { return "goto" }
func (acknowledgeEvent) name() string { return "acknowledge" }
func (dismissEvent) name() string     { return "dismiss" }
func (presentNextEvent) name() string { return "present_next" }
func (failEvent) name() string        { return "fail" }
func (completeEvent) name() string    { return "complete" }
func (skipEvent) name() string        { return "skip" }
func (tickEvent) name() string        { return "tick" }

// apply is the single entry point for state transitions. Callers hold e.mu.
func (e *Engine) apply(ev event) error {
	now := e.clock.Now()
	switch ev := ev.(type) {
	case startEvent:
		return e.start(ev.routine, now)
	case stopEvent:
		if e.phase == phaseIdle {
			return nil
		}
		e.finish(now, execution.StatusStopped)
		return nil
	case pauseEvent:
		if e.phase != phaseActive || e.timer == nil {
			return nil
		}
		paused := e.timer
		events, ok := paused.Pause(now)
		e.handleTimer(events, now)
		if e.timer != paused {
			// Catching up completed the step; the pause applies to the
			// step that followed.
			if e.phase != phaseActive || e.timer == nil {
				return nil
			}
			_, ok = e.timer.Pause(now)
		}
		if ok {
			e.cancelTick()
		}
		return nil
	case resumeEvent:
		if e.phase == phaseActive && e.timer != nil && e.timer.Resume(now) {
			e.scheduleTick()
		}
		return nil
	case startTimerEvent:
		if e.phase == phaseActive && e.timer != nil && e.timer.Start(now) {
			e.scheduleTick()
		}
		return nil
	case completeEvent:
		return e.resolve(ev.name(), now, func(step routine.Step) execution.StepRecord {
			minutes := e.elapsedMinutes(step, now)
			if ev.actual != nil {
				minutes = timer.MinutesCeil(*ev.actual)
			}
			return execution.StepRecord{Status: execution.StepCompleted, ActualMinutes: minutes, Notes: ev.notes}
		})
	case skipEvent:
		return e.resolve(ev.name(), now, func(routine.Step) execution.StepRecord {
			notes := "Skipped"
			if reason := strings.TrimSpace(ev.reason); reason != "" {
				notes = "Skipped: " + reason
			}
			return execution.StepRecord{Status: execution.StepSkipped, Notes: notes}
		})
	case gotoEvent:
		if e.phase == phaseIdle {
			return nil
		}
		if ev.index < 0 || ev.index >= len(e.steps) {
			return fmt.Errorf("%w: %d (routine has %d steps)", ErrInvalidStepIndex, ev.index, len(e.steps))
		}
		e.queue.Clear()
		e.activate(ev.index, now)
		return nil
	case acknowledgeEvent:
		return e.queue.Acknowledge(ev.id)
	case dismissEvent:
		return e.queue.Dismiss(ev.id)
	case failEvent:
		return e.queue.Fail(ev.id, ev.cause)
	case presentNextEvent:
		if e.phase == phaseTransitioning {
			e.queue.Next()
		}
		return nil
	case tickEvent:
		if ev.gen != e.gen {
			e.logger.Debug("Engine stale tick", "generation", ev.gen)
			return nil
		}
		e.tick = nil
		if e.phase != phaseActive || e.timer == nil || !e.timer.Running() || e.timer.Paused() {
			return nil
		}
		events := e.timer.Sync(now)
		e.state.Touch(now)
		step := e.steps[e.index]
		state := e.timer.State()
		if hook := e.hooks.OnTick; hook != nil {
			e.emit(func() { hook(step, state) })
		}
		e.handleTimer(events, now)
		if e.phase == phaseActive && e.timer != nil && e.timer.Running() {
			e.scheduleTick()
		}
		return nil
	}
	return fmt.Errorf("engine: unknown event %T", ev)
}

func (e *Engine) start(r routine.Routine, now time.Time) error {
	steps := r.Ordered()
	if len(steps) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyRoutine, r.DisplayName())
	}
	if e.phase != phaseIdle {
		e.finish(now, execution.StatusStopped)
	}
	e.gen++
	e.routine = r.Clone()
	e.steps = steps
	e.state = execution.New(r.ID, now)
	e.token = nil
	e.logger.Info("Engine start", "routine", r.ID, "execution", e.state.ID, "steps", len(steps))
	e.activate(0, now)
	return nil
}

// activate makes index the current step with a fresh timer.
func (e *Engine) activate(index int, now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancelTick()
	step := e.steps[index]
	cfg := timerConfigFor(step, e.notification)
	e.phase = phaseActive
	e.index = index
	e.state.CurrentStepIndex = index
	e.timer = timer.New(cfg)
	e.activatedAt = now
	e.update(step, execution.StepPending, 0, "", now)
	if cfg.AutoStart && e.timer.Start(now) {
		e.scheduleTick()
	}
	e.logger.Debug("Engine step activated", "execution", e.state.ID, "step", step.ID, "index", index)
	if hook := e.hooks.OnStepActivated; hook != nil {
		activated := step.Clone()
		e.emit(func() { hook(activated) })
	}
}

// resolve closes the active step with the record built by build and
// advances. A second resolve inside the re-entrancy window is ignored.
func (e *Engine) resolve(action string, now time.Time, build func(routine.Step) execution.StepRecord) error {
	if e.phase != phaseActive || e.timer == nil {
		e.logger.Debug("Engine resolve ignored", "action", action, "phase", e.phase.String())
		return nil
	}
	step := e.steps[e.index]
	if e.token != nil && now.Sub(e.token.issuedAt) < e.reentrancyWindow {
		e.logger.Debug("Engine resolve in flight", "action", action, "step", step.ID, "pending", e.token.action)
		return nil
	}
	e.token = &inflight{action: action, stepID: step.ID, issuedAt: now}

	rec := build(step)
	rec.StepID = step.ID
	rec.StartedAt = e.activatedAt
	at := now
	rec.CompletedAt = &at
	if rec.ActualMinutes < 0 {
		rec.ActualMinutes = 0
	}
	e.record(step, rec, now)
	e.advance(step, now)
	return nil
}

func (e *Engine) record(step routine.Step, rec execution.StepRecord, now time.Time) {
	e.state.Append(rec)
	e.state.Touch(now)
	e.timer.Stop()
	e.timer = nil
	e.cancelTick()
	e.update(step, rec.Status, rec.ActualMinutes, rec.Notes, now)
	e.logger.Info("Engine step resolved", "execution", e.state.ID, "step", step.ID, "status", string(rec.Status), "minutes", rec.ActualMinutes)
	if hook := e.hooks.OnStepComplete; hook != nil {
		resolved := step.Clone()
		e.emit(func() { hook(resolved, rec) })
	}
}

// advance moves past from: finish, activate the next step, or queue the
// entering step's cue.
func (e *Engine) advance(from routine.Step, now time.Time) {
	next := e.index + 1
	if next >= len(e.steps) {
		e.state.CurrentStepIndex = len(e.steps)
		e.finish(now, execution.StatusCompleted)
		return
	}
	entering := e.steps[next]
	if !entering.HasCue() {
		e.activate(next, now)
		return
	}
	e.phase = phaseTransitioning
	e.index = next
	e.state.CurrentStepIndex = next

	gen := e.gen
	enter := func(transition.Request) {
		if gen != e.gen || e.phase != phaseTransitioning || e.index != next {
			return
		}
		e.activate(next, e.clock.Now())
	}
	req := transition.NewRequest(*entering.Cue, from.ID, entering.ID, now)
	req.OnComplete = enter
	req.OnDismiss = enter
	req.OnError = func(r transition.Request, err error) {
		e.logger.Warn("Engine transition failed", "request", r.ID, "step", r.ToStepID, "error", err)
		enter(r)
	}
	e.queue.Enqueue(req)
}

// finish finalizes the execution and returns the engine to idle.
func (e *Engine) finish(now time.Time, status execution.Status) {
	e.cancelTick()
	e.queue.Clear()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state.Finalize(now, status)
	final := e.state.Clone()
	e.last = &final
	e.logger.Info("Engine finish", "execution", final.ID, "status", string(final.Status), "minutes", final.TotalDurationMinutes, "records", len(final.StepExecutions))

	e.gen++
	e.phase = phaseIdle
	e.index = execution.Idle
	e.state = nil
	e.steps = nil
	e.token = nil
	if hook := e.hooks.OnExecutionComplete; hook != nil {
		e.emit(func() { hook(final) })
	}
}

func (e *Engine) handleTimer(ev timer.Events, now time.Time) {
	if e.timer == nil || e.phase != phaseActive {
		return
	}
	step := e.steps[e.index]
	if ev.WarningStarted {
		if hook := e.hooks.OnTimerWarning; hook != nil {
			state := e.timer.State()
			e.emit(func() { hook(step, state) })
		}
	}
	if ev.Notify {
		e.deliver(step)
	}
	if ev.Completed {
		minutes := ev.ActualMinutes
		e.resolve("auto_complete", now, func(routine.Step) execution.StepRecord {
			return execution.StepRecord{Status: execution.StepCompleted, ActualMinutes: minutes}
		})
	}
}

// elapsedMinutes syncs the timer for a manual completion and returns the
// elapsed minutes, delivering the end notification if still due.
func (e *Engine) elapsedMinutes(step routine.Step, now time.Time) int {
	if e.timer.MarkCompleted(now) {
		e.deliver(step)
	}
	return timer.MinutesCeil(e.timer.Elapsed())
}

func (e *Engine) deliver(step routine.Step) {
	sink, n, logger := e.sink, e.timer.Config().Notification, e.logger
	e.emit(func() {
		if err := notify.Deliver(sink, n); err != nil {
			logger.Warn("Engine notification failed", "step", step.ID, "error", err)
		}
	})
}

func (e *Engine) update(step routine.Step, status execution.StepStatus, minutes int, notes string, now time.Time) {
	hook := e.hooks.OnStepUpdate
	if hook == nil {
		return
	}
	u := execution.StepUpdate{
		ExecutionID:   e.state.ID,
		RoutineID:     e.state.RoutineID,
		StepID:        step.ID,
		Status:        status,
		ActualMinutes: minutes,
		Notes:         notes,
		At:            now,
	}
	e.emit(func() { hook(u) })
}

func (e *Engine) scheduleTick() {
	if e.tick != nil {
		return
	}
	gen := e.gen
	e.tick = e.clock.AfterFunc(e.tickInterval, func() {
		_ = e.dispatch(tickEvent{gen: gen})
	})
}

func (e *Engine) cancelTick() {
	if e.tick != nil {
		e.tick.Stop()
		e.tick = nil
	}
}

// Queue callbacks; they run with e.mu held.

func (e *Engine) presented(p transition.Presentation) {
	if hook := e.hooks.OnTransition; hook != nil {
		e.emit(func() { hook(p) })
	}
}

func (e *Engine) overflowed(r transition.Request) {
	e.logger.Warn("Engine transition queue overflow", "request", r.ID, "step", r.ToStepID)
	if hook := e.hooks.OnQueueOverflow; hook != nil {
		e.emit(func() { hook(r) })
	}
}

func (e *Engine) transitionResolved(r transition.Request, outcome transition.Outcome) {
	e.logger.Debug("Engine transition resolved", "request", r.ID, "step", r.ToStepID, "outcome", string(outcome))
}

// timerConfigFor merges a step's timer settings over the defaults.
func timerConfigFor(step routine.Step, fallback *notify.Notification) timer.Config {
	cfg := timer.DefaultConfig(step.Planned())
	if fallback != nil {
		cfg.Notification = *fallback
	}
	if step.Timer == nil {
		return cfg
	}
	cfg.AutoStart = step.Timer.AutoStart
	if step.Timer.WarningMinutes != nil {
		cfg.Warning = time.Duration(*step.Timer.WarningMinutes) * time.Minute
	}
	if step.Timer.AllowOverrun != nil {
		cfg.AllowOverrun = *step.Timer.AllowOverrun
	}
	if step.Timer.EndNotification != nil {
		cfg.Notification = *step.Timer.EndNotification
	}
	return cfg
}
