// internal/tui/app.go
//
// This is the terminal front end for cadence. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the picker, runner and summary state
// 2. Update: engine snapshots and key presses become state changes
// 3. View: the state is rendered to a string
//
// The engine runs on its own timers. The App polls snapshots on a short
// interval and receives completion and flash notices through a channel fed
// by engine hooks.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/logbook"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/transition"
)

// appState represents which "screen" we're on
type appState int

const (
	statePicker  appState = iota // Routine list
	stateRunner                  // Active execution
	stateSummary                 // Finished execution report
)

const (
	refreshInterval = 250 * time.Millisecond
	flashDuration   = 600 * time.Millisecond
	eventBuffer     = 32
)

// Controller is the engine surface the TUI drives.
type Controller interface {
	Start(r routine.Routine) error
	Snapshot() engine.Snapshot
	StartTimer() error
	Pause() error
	Resume() error
	Stop() error
	CompleteCurrentStep(opts ...engine.CompleteOption) error
	SkipCurrentStep(reason string) error
	GoToStep(index int) error
	AcknowledgeTransition(id string) error
	DismissTransition(id string) error
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithInitialRoutine starts routineID as soon as the program runs.
func WithInitialRoutine(routineID string) AppOption {
	return func(a *App) {
		a.initialRoutine = strings.TrimSpace(routineID)
	}
}

// WithNow overrides the wall clock used for the flash effect.
func WithNow(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// pollMsg re-reads the snapshot on the refresh interval.
type pollMsg struct{}

// engineRefreshMsg is sent by hooks when the screen should update now.
type engineRefreshMsg struct{}

type executionDoneMsg struct {
	state execution.State
}

type flashMsg struct {
	intensity notify.Intensity
}

// App is the main application model.
type App struct {
	state    appState
	ctrl     Controller
	logbook  *logbook.Logbook
	routines []routine.Routine
	events   chan tea.Msg
	now      func() time.Time

	initialRoutine string

	picker    list.Model
	bar       progress.Model
	skipInput textinput.Model
	skipping  bool

	snap       engine.Snapshot
	summary    *execution.State
	flashUntil time.Time
	statusMsg  string
	err        error

	width  int
	height int
}

// routineItem implements list.Item for the picker.
type routineItem struct {
	routine routine.Routine
}

func (i routineItem) Title() string { return i.routine.DisplayName() }

func (i routineItem) Description() string {
	desc := fmt.Sprintf("%d steps · %d min", len(i.routine.Steps), i.routine.PlannedMinutes())
	if i.routine.Schedule != "" {
		desc += " · " + i.routine.Schedule
	}
	if i.routine.Description != "" {
		desc += " · " + i.routine.Description
	}
	return desc
}

func (i routineItem) FilterValue() string { return i.routine.ID + " " + i.routine.Name }

// NewApp creates an App listing routines. Attach a controller before
// running the program.
func NewApp(routines []routine.Routine, opts ...AppOption) *App {
	items := make([]list.Item, 0, len(routines))
	for _, r := range routines {
		items = append(items, routineItem{routine: r})
	}
	picker := list.New(items, list.NewDefaultDelegate(), 0, 0)
	picker.Title = "◷ ROUTINES"
	picker.SetShowStatusBar(false)
	picker.Styles.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Padding(0, 1)

	skip := textinput.New()
	skip.Placeholder = "reason (optional)"
	skip.CharLimit = 200
	skip.Prompt = "Skip because: "

	a := &App{
		state:     statePicker,
		routines:  routines,
		events:    make(chan tea.Msg, eventBuffer),
		now:       time.Now,
		picker:    picker,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		skipInput: skip,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Attach binds the engine and the logbook shown in the side panel.
func (a *App) Attach(ctrl Controller, lb *logbook.Logbook) {
	a.ctrl = ctrl
	a.logbook = lb
}

// Hooks returns engine hooks feeding the App. They never block the engine;
// notices are dropped when the program falls behind, and the next refresh
// catches up.
func (a *App) Hooks() engine.Hooks {
	return engine.Hooks{
		OnExecutionComplete: func(s execution.State) {
			a.notify(executionDoneMsg{state: s.Clone()})
		},
		OnTransition:    func(transition.Presentation) { a.notify(engineRefreshMsg{}) },
		OnStepActivated: func(routine.Step) { a.notify(engineRefreshMsg{}) },
	}
}

// Sink returns a notification sink that flashes the screen.
func (a *App) Sink() notify.Sink {
	return notify.Funcs{Screen: func(i notify.Intensity) error {
		a.notify(flashMsg{intensity: i})
		return nil
	}}
}

func (a *App) notify(msg tea.Msg) {
	select {
	case a.events <- msg:
	default:
	}
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.waitForEngine(), scheduleRefresh()}
	if a.initialRoutine != "" {
		r, ok := a.lookup(a.initialRoutine)
		if !ok {
			a.err = fmt.Errorf("%w: %s", routine.ErrNotFound, a.initialRoutine)
			return tea.Batch(cmds...)
		}
		a.startRoutine(r)
	}
	return tea.Batch(cmds...)
}

func (a *App) waitForEngine() tea.Cmd {
	events := a.events
	return func() tea.Msg {
		return <-events
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.picker.SetSize(max(0, msg.Width-6), max(0, msg.Height-8))
		a.bar.Width = max(10, min(60, msg.Width-20))
		return a, nil

	case pollMsg:
		a.refresh()
		return a, scheduleRefresh()

	case engineRefreshMsg:
		a.refresh()
		return a, a.waitForEngine()

	case executionDoneMsg:
		a.showSummary(msg.state)
		a.refresh()
		return a, a.waitForEngine()

	case flashMsg:
		a.flashUntil = a.now().Add(flashDuration)
		return a, a.waitForEngine()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.stopRun()
			return a, tea.Quit
		}
		switch a.state {
		case statePicker:
			return a.updatePicker(msg)
		case stateRunner:
			return a, a.handleRunnerKey(msg)
		case stateSummary:
			return a.updateSummary(msg)
		}
	}

	if a.state == statePicker {
		var cmd tea.Cmd
		a.picker, cmd = a.picker.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		if !a.picker.SettingFilter() {
			return a, tea.Quit
		}
	case "enter":
		if a.picker.SettingFilter() {
			break
		}
		item, ok := a.picker.SelectedItem().(routineItem)
		if !ok {
			return a, nil
		}
		a.startRoutine(item.routine)
		return a, nil
	}
	var cmd tea.Cmd
	a.picker, cmd = a.picker.Update(msg)
	return a, cmd
}

func (a *App) updateSummary(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "enter", "esc":
		a.state = statePicker
		a.summary = nil
		a.statusMsg = ""
	}
	return a, nil
}

func (a *App) startRoutine(r routine.Routine) {
	if a.ctrl == nil {
		a.err = fmt.Errorf("no engine attached")
		return
	}
	a.err = nil
	if err := a.ctrl.Start(r); err != nil {
		a.err = err
		a.logError("start %s: %v", r.DisplayName(), err)
		return
	}
	a.summary = nil
	a.state = stateRunner
	a.statusMsg = fmt.Sprintf("Started %s", r.DisplayName())
	a.refresh()
}

func (a *App) stopRun() {
	if a.ctrl == nil || a.state != stateRunner {
		return
	}
	if err := a.ctrl.Stop(); err != nil {
		a.logError("stop: %v", err)
	}
}

// refresh reads a snapshot. A run that ended without its completion
// notice reaching us still lands on the summary screen.
func (a *App) refresh() {
	if a.ctrl == nil {
		return
	}
	a.snap = a.ctrl.Snapshot()
	if a.state == stateRunner && !a.snap.Running() && a.snap.Last != nil {
		a.showSummary(*a.snap.Last)
	}
}

func (a *App) showSummary(final execution.State) {
	if a.state != stateRunner {
		return
	}
	a.summary = &final
	a.skipping = false
	a.skipInput.Blur()
	a.state = stateSummary
}

func (a *App) flashing() bool {
	return !a.flashUntil.IsZero() && a.now().Before(a.flashUntil)
}

// View renders the current screen.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.state {
	case statePicker:
		content = a.picker.View()
		if len(a.routines) == 0 {
			content = "No routines found. Add YAML files to .cadence/routines and run again."
		}
	case stateRunner:
		content = a.renderRunner(width)
	case stateSummary:
		content = a.renderSummary()
	}
	header := headerStyle
	if a.flashing() {
		header = header.Reverse(true)
	}
	parts := []string{header.Render("◷ CADENCE"), content}
	if a.err != nil {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	} else if a.statusMsg != "" {
		parts = append(parts, statusStyle.Render(a.statusMsg))
	}
	if panel := a.renderLogPanel(); panel != "" {
		parts = append(parts, panel)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderSummary() string {
	if a.summary == nil {
		return "No run to report."
	}
	s := a.summary
	name := s.RoutineID
	if r, ok := a.lookup(s.RoutineID); ok {
		name = r.DisplayName()
	}
	title := "Finished"
	if s.Status == execution.StatusStopped {
		title = "Stopped"
	}
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s · %s", title, name)),
		fmt.Sprintf("Total: %d min · %d completed · %d skipped",
			s.TotalDurationMinutes, s.Count(execution.StepCompleted), s.Count(execution.StepSkipped)),
		"",
	}
	titles := a.stepTitles(s.RoutineID)
	for _, rec := range s.StepExecutions {
		label := rec.StepID
		if t, ok := titles[rec.StepID]; ok {
			label = t
		}
		mark := markDone.Render("✓")
		if rec.Status == execution.StepSkipped {
			mark = markSkipped.Render("↷")
		}
		line := fmt.Sprintf("%s %s · %d min", mark, label, rec.ActualMinutes)
		if rec.Notes != "" {
			line += " · " + detailTextStyle.Render(rec.Notes)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", helpStyle.Render("enter=back to routines  q=quit"))
	return strings.Join(lines, "\n")
}

// lookup finds a routine by id, case-insensitively.
func (a *App) lookup(id string) (routine.Routine, bool) {
	for _, r := range a.routines {
		if strings.EqualFold(r.ID, id) {
			return r, true
		}
	}
	return routine.Routine{}, false
}

func (a *App) stepTitles(routineID string) map[string]string {
	titles := map[string]string{}
	for _, r := range a.routines {
		if r.ID != routineID {
			continue
		}
		for _, step := range r.Steps {
			titles[step.ID] = step.Title
		}
	}
	return titles
}
