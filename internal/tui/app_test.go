package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/cadence/internal/clock"
	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
)

var t0 = time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)

func morning() routine.Routine {
	auto := &routine.TimerConfig{AutoStart: true}
	return routine.Routine{
		ID:   "morning",
		Name: "Morning",
		Steps: []routine.Step{
			{ID: "wake", Title: "Wake up", DurationMinutes: 5, Order: 1, Timer: auto},
			{ID: "stretch", Title: "Stretch", DurationMinutes: 10, Order: 2, Timer: auto},
			{ID: "meds", Title: "Medication", DurationMinutes: 5, Order: 3, Timer: auto,
				Cue: &routine.Cue{Kind: routine.CueText, Text: "Take your meds", Required: true}},
		},
	}
}

func newTestApp(t *testing.T, opts ...AppOption) (*App, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(t0)
	app := NewApp([]routine.Routine{morning()}, opts...)
	eng := engine.New(engine.WithClock(fake), engine.WithHooks(app.Hooks()), engine.WithSink(app.Sink()))
	app.Attach(eng, nil)
	app = update(t, app, tea.WindowSizeMsg{Width: 100, Height: 40})
	return app, fake
}

func update(t *testing.T, app *App, msg tea.Msg) *App {
	t.Helper()
	model, _ := app.Update(msg)
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	return next
}

func press(t *testing.T, app *App, key string) *App {
	t.Helper()
	switch key {
	case "enter":
		return update(t, app, tea.KeyMsg{Type: tea.KeyEnter})
	case "esc":
		return update(t, app, tea.KeyMsg{Type: tea.KeyEsc})
	case "right":
		return update(t, app, tea.KeyMsg{Type: tea.KeyRight})
	case "left":
		return update(t, app, tea.KeyMsg{Type: tea.KeyLeft})
	}
	return update(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
}

func TestPickerStartsSelectedRoutine(t *testing.T) {
	app, _ := newTestApp(t)
	if app.state != statePicker {
		t.Fatalf("expected picker first")
	}
	app = press(t, app, "enter")
	if app.state != stateRunner {
		t.Fatalf("expected runner after selecting a routine, got %d", app.state)
	}
	if !app.snap.Running() || app.snap.Step == nil || app.snap.Step.ID != "wake" {
		t.Fatalf("expected first step active, got %+v", app.snap.Step)
	}
	if view := app.View(); !strings.Contains(view, "Step 1/3 · Wake up") {
		t.Fatalf("runner view missing step line:\n%s", view)
	}
}

func TestInitialRoutineStartsOnInit(t *testing.T) {
	app, _ := newTestApp(t, WithInitialRoutine("morning"))
	app.Init()
	if app.state != stateRunner || !app.snap.Running() {
		t.Fatalf("expected initial routine to start")
	}

	missing, _ := newTestApp(t, WithInitialRoutine("evening"))
	missing.Init()
	if missing.state != statePicker || missing.err == nil {
		t.Fatalf("unknown routine should leave the picker with an error")
	}
}

func TestRunnerKeysDriveEngine(t *testing.T) {
	app, fake := newTestApp(t, WithInitialRoutine("morning"))
	app.Init()

	fake.Advance(5 * time.Minute)
	app = press(t, app, "c")
	if app.snap.Step == nil || app.snap.Step.ID != "stretch" {
		t.Fatalf("complete should advance to stretch, got %+v", app.snap.Step)
	}

	app = press(t, app, "p")
	if app.snap.Timer == nil || !app.snap.Timer.Paused {
		t.Fatalf("expected paused timer")
	}
	app = press(t, app, "p")
	if app.snap.Timer.Paused {
		t.Fatalf("expected resumed timer")
	}

	fake.Advance(time.Second)
	app = press(t, app, "x")
	if !app.skipping {
		t.Fatalf("x should open the skip prompt")
	}
	app = press(t, app, "sore")
	app = press(t, app, "enter")
	if app.skipping {
		t.Fatalf("enter should close the skip prompt")
	}
	records := app.snap.Execution.StepExecutions
	if len(records) != 2 || records[1].Status != execution.StepSkipped || records[1].Notes != "Skipped: sore" {
		t.Fatalf("expected skip with reason, got %+v", records)
	}
}

func TestRequiredCueMustBeAcknowledged(t *testing.T) {
	app, fake := newTestApp(t, WithInitialRoutine("morning"))
	app.Init()
	app = press(t, app, "right")
	if app.snap.Step == nil || app.snap.Step.ID != "stretch" {
		t.Fatalf("right should move to stretch, got %+v", app.snap.Step)
	}
	fake.Advance(time.Second)
	app = press(t, app, "c")
	fake.Advance(engine.DefaultTransitionDelay)
	app = update(t, app, pollMsg{})
	if app.snap.Transition == nil {
		t.Fatalf("expected the meds cue to be presented")
	}
	if view := app.View(); !strings.Contains(view, "Take your meds") || !strings.Contains(view, "required") {
		t.Fatalf("overlay missing cue text:\n%s", view)
	}

	app = press(t, app, "esc")
	if app.statusMsg != "This cue must be acknowledged" || app.snap.Transition == nil {
		t.Fatalf("required cue should stay presented, status %q", app.statusMsg)
	}
	app = press(t, app, "c")
	if app.snap.Transition == nil {
		t.Fatalf("other keys must not act while a cue is presented")
	}
	app = press(t, app, "enter")
	if app.snap.Transition != nil || app.snap.Step == nil || app.snap.Step.ID != "meds" {
		t.Fatalf("acknowledge should activate meds, got %+v", app.snap.Step)
	}
}

func TestStopShowsSummary(t *testing.T) {
	app, fake := newTestApp(t, WithInitialRoutine("morning"))
	app.Init()
	fake.Advance(3 * time.Minute)
	app = press(t, app, "q")
	if app.state != stateSummary || app.summary == nil {
		t.Fatalf("stop should show the summary, got state %d", app.state)
	}
	if app.summary.Status != execution.StatusStopped {
		t.Fatalf("expected stopped run, got %s", app.summary.Status)
	}
	if view := app.View(); !strings.Contains(view, "Stopped · Morning") {
		t.Fatalf("summary missing title:\n%s", view)
	}
	app = press(t, app, "enter")
	if app.state != statePicker {
		t.Fatalf("enter should return to the picker")
	}
}

func TestFlashFromSink(t *testing.T) {
	now := t0
	app, _ := newTestApp(t, WithNow(func() time.Time { return now }))
	if err := app.Sink().Flash("normal"); err != nil {
		t.Fatalf("flash: %v", err)
	}
	var msg tea.Msg
	select {
	case msg = <-app.events:
	default:
		t.Fatalf("expected a flash notice")
	}
	app = update(t, app, msg)
	if !app.flashing() {
		t.Fatalf("expected flash to be active")
	}
	now = now.Add(time.Second)
	if app.flashing() {
		t.Fatalf("flash should expire")
	}
}

func TestRenderTimerStates(t *testing.T) {
	app, _ := newTestApp(t)
	over := app.renderTimer(&timer.State{Planned: 5 * time.Minute, Elapsed: 7 * time.Minute, Overrun: 2 * time.Minute, Running: true})
	if !strings.Contains(over, "+02:00 over") {
		t.Fatalf("expected overrun label, got %q", over)
	}
	warn := app.renderTimer(&timer.State{Planned: 5 * time.Minute, Elapsed: 4 * time.Minute, Remaining: time.Minute, Running: true, ShowWarning: true})
	if !strings.Contains(warn, "01:00 left") {
		t.Fatalf("expected warning label, got %q", warn)
	}
	idle := app.renderTimer(&timer.State{Planned: 5 * time.Minute})
	if !strings.Contains(idle, "press s to start") {
		t.Fatalf("expected start hint, got %q", idle)
	}
	if got := formatClock(75 * time.Minute); got != "1:15:00" {
		t.Fatalf("unexpected clock %q", got)
	}
}
