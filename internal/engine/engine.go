package engine

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kingrea/cadence/internal/clock"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

var (
	// ErrEmptyRoutine is returned when starting a routine without steps.
	ErrEmptyRoutine = errors.New("engine: routine has no steps")
	// ErrInvalidStepIndex is returned by GoToStep for an out-of-range index.
	ErrInvalidStepIndex = errors.New("engine: step index out of range")
)

const (
	DefaultTickInterval      = time.Second
	DefaultReentrancyWindow  = 500 * time.Millisecond
	DefaultTransitionDelay   = transition.DefaultDelay
	DefaultMaxTransitionSize = transition.DefaultMaxSize
)

// Hooks receive engine notifications. Nil hooks are skipped.
type Hooks struct {
	OnExecutionComplete func(execution.State)
	OnStepComplete      func(routine.Step, execution.StepRecord)
	OnStepActivated     func(routine.Step)
	OnStepUpdate        func(execution.StepUpdate)
	OnTransition        func(transition.Presentation)
	OnTimerWarning      func(routine.Step, timer.State)
	OnTick              func(routine.Step, timer.State)
	OnQueueOverflow     func(transition.Request)
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger routes engine diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink sets where end-of-step notifications are delivered.
func WithSink(sink notify.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithHooks registers host callbacks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithTickInterval changes how often the active timer is synced.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithTransitionDelay changes the cue coalescing delay.
func WithTransitionDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.transitionDelay = d
		}
	}
}

// WithQueueSize bounds the number of pending transition cues.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithReentrancyWindow sets how long a complete or skip blocks the next one.
func WithReentrancyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.reentrancyWindow = d
		}
	}
}

// WithAutoAdvance toggles presenting the next queued cue automatically.
func WithAutoAdvance(enabled bool) Option {
	return func(e *Engine) { e.autoAdvance = enabled }
}

// WithDefaultNotification sets the end notification for steps that do
// not declare one.
func WithDefaultNotification(n notify.Notification) Option {
	return func(e *Engine) {
		n = n.Normalized()
		e.notification = &n
	}
}

type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseTransitioning
)

func (p phase) String() string {
	switch p {
	case phaseActive:
		return "active"
	case phaseTransitioning:
		return "transitioning"
	default:
		return "idle"
	}
}

// inflight marks a resolve action (complete or skip) that is still within
// the re-entrancy window.
type inflight struct {
	action   string
	stepID   string
	issuedAt time.Time
}

// Engine runs routines. The zero value is not usable; call New.
type Engine struct {
	clock            clock.Clock
	logger           *slog.Logger
	sink             notify.Sink
	hooks            Hooks
	tickInterval     time.Duration
	transitionDelay  time.Duration
	queueSize        int
	reentrancyWindow time.Duration
	autoAdvance      bool
	notification     *notify.Notification

	mu          sync.Mutex
	gen         int64
	phase       phase
	routine     routine.Routine
	steps       []routine.Step
	state       *execution.State
	last        *execution.State
	index       int
	timer       *timer.StepTimer
	activatedAt time.Time
	tick        clock.Timer
	queue       *transition.Queue
	token       *inflight

	outbox   []func()
	draining bool
}

// New builds an idle engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:            clock.Real{},
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		sink:             notify.Nop{},
		tickInterval:     DefaultTickInterval,
		transitionDelay:  DefaultTransitionDelay,
		queueSize:        DefaultMaxTransitionSize,
		reentrancyWindow: DefaultReentrancyWindow,
		autoAdvance:      true,
		index:            execution.Idle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.queue = transition.New(
		transition.WithClock(lockedClock{e}),
		transition.WithDelay(e.transitionDelay),
		transition.WithMaxSize(e.queueSize),
		transition.WithAutoAdvance(e.autoAdvance),
		transition.OnPresent(e.presented),
		transition.OnOverflow(e.overflowed),
		transition.OnResolve(e.transitionResolved),
	)
	return e
}

// CompleteOption adjusts a manual completion.
type CompleteOption func(*completeEvent)

// WithActualDuration records d instead of the timer's elapsed time.
func WithActualDuration(d time.Duration) CompleteOption {
	return func(ev *completeEvent) { ev.actual = &d }
}

// WithNotes attaches free-form notes to the step record.
func WithNotes(notes string) CompleteOption {
	return func(ev *completeEvent) { ev.notes = notes }
}

// Start begins a new execution of r. A run already in progress is stopped
// first.
func (e *Engine) Start(r routine.Routine) error {
	return e.dispatch(startEvent{routine: r})
}

// Pause freezes the active step timer.
func (e *Engine) Pause() error { return e.dispatch(pauseEvent{}) }

// Resume continues the active step timer.
func (e *Engine) Resume() error { return e.dispatch(resumeEvent{}) }

// StartTimer starts the active step timer when it was not auto-started.
func (e *Engine) StartTimer() error { return e.dispatch(startTimerEvent{}) }

// Stop finalizes the current execution as stopped and returns to idle.
func (e *Engine) Stop() error { return e.dispatch(stopEvent{}) }

// CompleteCurrentStep records the active step as completed and advances.
func (e *Engine) CompleteCurrentStep(opts ...CompleteOption) error {
	ev := completeEvent{}
	for _, opt := range opts {
		if opt != nil {
			opt(&ev)
		}
	}
	return e.dispatch(ev)
}

// SkipCurrentStep records the active step as skipped and advances.
func (e *Engine) SkipCurrentStep(reason string) error {
	return e.dispatch(skipEvent{reason: reason})
}

// GoToStep moves the cursor to index without recording the step left.
func (e *Engine) GoToStep(index int) error {
	return e.dispatch(gotoEvent{index: index})
}

// AcknowledgeTransition resolves the presented cue.
func (e *Engine) AcknowledgeTransition(id string) error {
	return e.dispatch(acknowledgeEvent{id: id})
}

// DismissTransition dismisses the presented cue. Required cues return
// transition.ErrAcknowledgementRequired.
func (e *Engine) DismissTransition(id string) error {
	return e.dispatch(dismissEvent{id: id})
}

// PresentNextTransition shows a waiting cue now instead of after the
// coalescing delay. Hosts that turn auto-advance off use it to pull cues.
func (e *Engine) PresentNextTransition() error {
	return e.dispatch(presentNextEvent{})
}

// FailTransition reports that the presented cue could not be shown. The
// engine still advances to the entering step.
func (e *Engine) FailTransition(id string, cause error) error {
	return e.dispatch(failEvent{id: id, cause: cause})
}

// dispatch applies ev under the lock and then drains pending hooks.
func (e *Engine) dispatch(ev event) error {
	e.mu.Lock()
	err := e.apply(ev)
	e.mu.Unlock()
	e.flush()
	return err
}

// emit queues fn for delivery outside the lock. Callers hold e.mu.
func (e *Engine) emit(fn func()) {
	e.outbox = append(e.outbox, fn)
}

// flush delivers queued hooks. Only one caller drains at a time; a hook
// that re-enters the engine leaves its own hooks for the active drainer.
func (e *Engine) flush() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		fn := e.outbox[0]
		e.outbox = e.outbox[1:]
		e.mu.Unlock()
		fn()
		e.mu.Lock()
	}
	e.outbox = nil
	e.draining = false
	e.mu.Unlock()
}

// lockedClock schedules queue callbacks so they run under the engine lock
// and are dropped once the arming execution is gone.
type lockedClock struct{ e *Engine }

func (c lockedClock) Now() time.Time { return c.e.clock.Now() }

func (c lockedClock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	// The queue only arms callbacks while the engine lock is held.
	gen := c.e.gen
	return c.e.clock.AfterFunc(d, func() {
		c.e.mu.Lock()
		if gen != c.e.gen {
			c.e.mu.Unlock()
			c.e.logger.Debug("Engine stale transition callback", "generation", gen)
			return
		}
		fn()
		c.e.mu.Unlock()
		c.e.flush()
	})
}
