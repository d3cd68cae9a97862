// Package timer tracks elapsed and remaining time for the active routine
// step. A StepTimer is a plain state holder: callers feed it elapsed time
// (Tick) or wall-clock readings (Sync) and act on the Events it returns.
// It is not safe for concurrent use; the engine serializes access.
package timer

import (
	"time"

	"github.com/kingrea/cadence/internal/notify"
)

// DefaultWarning is how long before the planned end the warning shows.
const DefaultWarning = 2 * time.Minute

// Config configures one step activation.
type Config struct {
	Planned      time.Duration
	AutoStart    bool
	Warning      time.Duration
	AllowOverrun bool
	Notification notify.Notification
}

// DefaultConfig returns the defaults for a step with the given planned
// duration: manual start, two minute warning, overrun allowed.
func DefaultConfig(planned time.Duration) Config {
	return Config{
		Planned:      planned,
		Warning:      DefaultWarning,
		AllowOverrun: true,
		Notification: notify.Default,
	}
}

// clamped bounds the warning threshold to [0, Planned].
func (c Config) clamped() Config {
	if c.Planned < 0 {
		c.Planned = 0
	}
	if c.Warning < 0 {
		c.Warning = 0
	}
	if c.Warning > c.Planned {
		c.Warning = c.Planned
	}
	c.Notification = c.Notification.Normalized()
	return c
}

// Events reports what changed during a Tick or Sync.
type Events struct {
	// WarningStarted is set on the tick the warning window opens.
	WarningStarted bool
	// Ended is set once, on the tick remaining time first reaches zero.
	Ended bool
	// Completed is set when the step auto-completes (overrun disallowed).
	Completed bool
	// ActualMinutes is the elapsed time rounded up, set with Completed.
	ActualMinutes int
	// Notify asks the caller to deliver the end notification now.
	Notify bool
}

// State is a read-only view of a timer.
type State struct {
	Planned     time.Duration `json:"planned"`
	Elapsed     time.Duration `json:"elapsed"`
	Remaining   time.Duration `json:"remaining"`
	Overrun     time.Duration `json:"overrun"`
	Running     bool          `json:"running"`
	Paused      bool          `json:"paused"`
	ShowWarning bool          `json:"show_warning"`
	Completed   bool          `json:"completed"`
}

// StepTimer counts one step activation.
type StepTimer struct {
	cfg         Config
	running     bool
	paused      bool
	elapsed     time.Duration
	lastSync    time.Time
	showWarning bool
	ended       bool
	notified    bool
	completed   bool
}

// New builds a stopped timer. An out-of-range warning threshold is clamped.
func New(cfg Config) *StepTimer {
	return &StepTimer{cfg: cfg.clamped()}
}

// Config returns the effective (clamped) configuration.
func (t *StepTimer) Config() Config { return t.cfg }

// Start begins counting from now. It reports false when the timer is
// already running or has auto-completed.
func (t *StepTimer) Start(now time.Time) bool {
	if t.running || t.completed {
		return false
	}
	t.running = true
	t.paused = false
	t.lastSync = now
	return true
}

// Pause freezes elapsed time. Time up to now is accounted first.
func (t *StepTimer) Pause(now time.Time) (Events, bool) {
	if !t.running || t.paused {
		return Events{}, false
	}
	ev := t.Sync(now)
	if !t.running {
		return ev, false
	}
	t.paused = true
	return ev, true
}

// Resume continues counting from now without resetting elapsed time.
func (t *StepTimer) Resume(now time.Time) bool {
	if !t.running || !t.paused {
		return false
	}
	t.paused = false
	t.lastSync = now
	return true
}

// Stop resets the timer to its planned duration and leaves it stopped.
func (t *StepTimer) Stop() {
	t.running = false
	t.paused = false
	t.elapsed = 0
	t.showWarning = false
	t.ended = false
	t.completed = false
}

// Sync advances elapsed time by the wall-clock delta since the last
// reading, so a suspended host catches up on its next tick.
func (t *StepTimer) Sync(now time.Time) Events {
	if !t.running || t.paused {
		return Events{}
	}
	delta := now.Sub(t.lastSync)
	t.lastSync = now
	return t.Tick(delta)
}

// Tick advances elapsed time by delta. Negative deltas count as zero.
func (t *StepTimer) Tick(delta time.Duration) Events {
	if !t.running || t.paused || t.completed {
		return Events{}
	}
	if delta < 0 {
		delta = 0
	}
	var ev Events
	t.elapsed += delta
	remaining := t.Remaining()

	wasWarning := t.showWarning
	t.showWarning = remaining <= t.cfg.Warning && remaining > 0
	ev.WarningStarted = t.showWarning && !wasWarning

	if remaining == 0 && !t.ended {
		t.ended = true
		ev.Ended = true
		if !t.notified {
			t.notified = true
			ev.Notify = true
		}
	}
	if remaining == 0 && !t.cfg.AllowOverrun {
		t.completed = true
		t.running = false
		ev.Completed = true
		ev.ActualMinutes = MinutesCeil(t.elapsed)
	}
	return ev
}

// MarkCompleted records a manual completion. It reports whether the end
// notification still has to be delivered for this activation.
func (t *StepTimer) MarkCompleted(now time.Time) bool {
	var ev Events
	if t.running && !t.paused {
		ev = t.Sync(now)
	}
	t.running = false
	t.paused = false
	t.completed = true
	if ev.Notify {
		return true
	}
	if t.notified {
		return false
	}
	t.notified = true
	return true
}

// Elapsed returns the time counted so far.
func (t *StepTimer) Elapsed() time.Duration { return t.elapsed }

// Remaining returns max(0, planned - elapsed).
func (t *StepTimer) Remaining() time.Duration {
	if rem := t.cfg.Planned - t.elapsed; rem > 0 {
		return rem
	}
	return 0
}

// Overrun returns how far elapsed time exceeds the planned duration.
func (t *StepTimer) Overrun() time.Duration {
	if over := t.elapsed - t.cfg.Planned; over > 0 {
		return over
	}
	return 0
}

// Running reports whether the timer has been started and not completed.
func (t *StepTimer) Running() bool { return t.running }

// Paused reports whether the timer is paused.
func (t *StepTimer) Paused() bool { return t.paused }

// ShowWarning reports whether the warning window is open.
func (t *StepTimer) ShowWarning() bool { return t.showWarning }

// State returns a snapshot for rendering.
func (t *StepTimer) State() State {
	return State{
		Planned:     t.cfg.Planned,
		Elapsed:     t.elapsed,
		Remaining:   t.Remaining(),
		Overrun:     t.Overrun(),
		Running:     t.running,
		Paused:      t.paused,
		ShowWarning: t.showWarning,
		Completed:   t.completed,
	}
}

// MinutesCeil converts a duration to reported minutes: whole seconds,
// rounded up to the next minute (61s reports as 2).
func MinutesCeil(d time.Duration) int {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0
	}
	return int((secs + 59) / 60)
}
