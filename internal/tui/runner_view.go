package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
	detailTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))

	timerNormal  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	timerWarning = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	timerOverrun = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	timerPaused  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))

	markDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	markSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	markCurrent = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	markPending = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))

	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#F7B801")).
			Padding(1, 2)
)

// handleRunnerKey maps keys to engine operations. While a cue is presented
// only acknowledge, dismiss and stop are live.
func (a *App) handleRunnerKey(msg tea.KeyMsg) tea.Cmd {
	if a.ctrl == nil {
		return nil
	}
	if a.skipping {
		return a.handleSkipInput(msg)
	}
	key := msg.String()
	if cue := a.snap.Transition; cue != nil {
		switch key {
		case "enter", " ":
			a.run("Acknowledged", a.ctrl.AcknowledgeTransition(cue.RequestID))
		case "esc":
			err := a.ctrl.DismissTransition(cue.RequestID)
			if errors.Is(err, transition.ErrAcknowledgementRequired) {
				a.statusMsg = "This cue must be acknowledged"
				return nil
			}
			a.run("Dismissed", err)
		case "q":
			a.run("Stopped", a.ctrl.Stop())
		}
		return nil
	}
	switch key {
	case "s":
		a.run("Timer started", a.ctrl.StartTimer())
	case "p":
		if a.snap.Timer != nil && a.snap.Timer.Paused {
			a.run("Resumed", a.ctrl.Resume())
		} else {
			a.run("Paused", a.ctrl.Pause())
		}
	case "c", "enter":
		a.run("Step completed", a.ctrl.CompleteCurrentStep())
	case "x":
		a.skipping = true
		a.skipInput.SetValue("")
		return a.skipInput.Focus()
	case "left", "h":
		if a.snap.StepIndex > 0 {
			a.run("Moved back", a.ctrl.GoToStep(a.snap.StepIndex-1))
		}
	case "right", "l":
		if a.snap.StepIndex >= 0 && a.snap.StepIndex < len(a.snap.Steps)-1 {
			a.run("Moved ahead", a.ctrl.GoToStep(a.snap.StepIndex+1))
		}
	case "q":
		a.run("Stopped", a.ctrl.Stop())
	}
	return nil
}

func (a *App) handleSkipInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		reason := strings.TrimSpace(a.skipInput.Value())
		a.skipping = false
		a.skipInput.Blur()
		a.run("Step skipped", a.ctrl.SkipCurrentStep(reason))
		return nil
	case "esc":
		a.skipping = false
		a.skipInput.Blur()
		a.statusMsg = "Skip cancelled"
		return nil
	}
	var cmd tea.Cmd
	a.skipInput, cmd = a.skipInput.Update(msg)
	return cmd
}

// run records the outcome of an engine call and refreshes the snapshot.
func (a *App) run(done string, err error) {
	if err != nil {
		a.err = err
		a.logError("%s: %v", strings.ToLower(done), err)
	} else {
		a.err = nil
		a.statusMsg = done
	}
	a.refresh()
}

func (a *App) renderRunner(width int) string {
	snap := a.snap
	if !snap.Running() {
		return "Starting…"
	}
	lines := []string{titleStyle.Render(snap.Routine)}
	if snap.Step != nil {
		lines = append(lines,
			fmt.Sprintf("Step %d/%d · %s", snap.StepIndex+1, len(snap.Steps), snap.Step.Title),
			a.renderTimer(snap.Timer),
		)
		if snap.Step.Description != "" {
			lines = append(lines, detailTextStyle.Render(snap.Step.Description))
		}
	} else {
		lines = append(lines, "Between steps", "")
	}
	p := snap.Progress
	lines = append(lines,
		"",
		a.bar.ViewAs(p.Percentage/100),
		fmt.Sprintf("%d/%d done · ~%d min left · %d min spent",
			p.CompletedSteps, p.TotalSteps, p.EstimatedRemainingMinutes, p.ActualSpentMinutes),
		"",
	)
	lines = append(lines, a.renderStepList()...)
	body := strings.Join(lines, "\n")
	if snap.Transition != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", a.renderOverlay(*snap.Transition, width))
	}
	if a.skipping {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", a.skipInput.View())
	}
	help := "s=start  p=pause/resume  c=complete  x=skip  ←/→=move  q=stop"
	if snap.Transition != nil {
		help = "enter=acknowledge  esc=dismiss  q=stop"
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, "", helpStyle.Render(help))
}

func (a *App) renderTimer(st *timer.State) string {
	if st == nil {
		return ""
	}
	clock := fmt.Sprintf("%s / %s", formatClock(st.Elapsed), formatClock(st.Planned))
	switch {
	case st.Overrun > 0:
		clock = timerOverrun.Render(fmt.Sprintf("%s  +%s over", clock, formatClock(st.Overrun)))
	case st.ShowWarning:
		clock = timerWarning.Render(fmt.Sprintf("%s  %s left", clock, formatClock(st.Remaining)))
	default:
		clock = timerNormal.Render(clock)
	}
	switch {
	case st.Paused:
		clock += " " + timerPaused.Render("(paused)")
	case !st.Running && !st.Completed:
		clock += " " + timerPaused.Render("(press s to start)")
	}
	return clock
}

func (a *App) renderStepList() []string {
	snap := a.snap
	resolved := map[string]execution.StepRecord{}
	if snap.Execution != nil {
		resolved = snap.Execution.Resolved()
	}
	lines := make([]string, 0, len(snap.Steps))
	for i, step := range snap.Steps {
		lines = append(lines, renderStepLine(step, i == snap.StepIndex && snap.Step != nil, resolved))
	}
	return lines
}

func renderStepLine(step routine.Step, current bool, resolved map[string]execution.StepRecord) string {
	mark := markPending.Render("·")
	suffix := fmt.Sprintf("%d min", step.DurationMinutes)
	if rec, ok := resolved[step.ID]; ok {
		switch rec.Status {
		case execution.StepSkipped:
			mark = markSkipped.Render("↷")
			suffix = "skipped"
		default:
			mark = markDone.Render("✓")
			suffix = fmt.Sprintf("%d/%d min", rec.ActualMinutes, step.DurationMinutes)
		}
	}
	if current {
		mark = markCurrent.Render("▶")
	}
	return fmt.Sprintf("%s %s · %s", mark, step.Title, suffix)
}

func (a *App) renderOverlay(cue transition.Presentation, width int) string {
	text := cue.Cue.Text
	if text == "" {
		text = cue.Cue.Asset
	}
	if text == "" {
		text = "Next: " + cue.ToStepID
	}
	footer := "enter=acknowledge  esc=dismiss"
	if !cue.Dismissible {
		footer = "enter=acknowledge (required)"
	}
	if cue.AutoDismiss > 0 {
		footer += fmt.Sprintf("  · closes in %s", cue.AutoDismiss.Round(time.Second))
	}
	style := overlayStyle
	if width > 20 {
		style = style.Width(min(width-4, 60))
	}
	return style.Render(fmt.Sprintf("%s\n\n%s", titleStyle.Render(text), helpStyle.Render(footer)))
}

// formatClock renders d as mm:ss, or h:mm:ss past an hour.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
