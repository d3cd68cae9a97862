// Package session assembles a configured engine with its history store,
// logbook, and notification sinks. The CLI's run and serve commands both
// drive an engine through a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kingrea/cadence/internal/clock"
	"github.com/kingrea/cadence/internal/config"
	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/logbook"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/store"
	"github.com/kingrea/cadence/internal/transition"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
	sinks  []notify.Sink
	hooks  []engine.Hooks
	store  store.Store
	bell   io.Writer
}

// WithClock drives the engine from c.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink adds a notification sink next to the configured ones.
func WithSink(s notify.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithHooks adds engine hooks after the session's own.
func WithHooks(h engine.Hooks) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithStore uses st instead of the configured backend. The session does
// not close it.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithBell sends terminal bells to w instead of stderr.
func WithBell(w io.Writer) Option {
	return func(o *options) { o.bell = w }
}

// Session is an engine bound to a project's persistence and logbook.
type Session struct {
	*engine.Engine

	cfg       *config.Config
	clock     clock.Clock
	logger    *slog.Logger
	store     store.Store
	ownsStore bool
	persister *store.Persister
	snapshots *store.Snapshots
	logbook   *logbook.Logbook
	recovered *execution.State
}

// Open builds a session for cfg. An execution left running by a previous
// session is finalized as stopped before the new engine starts.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session: config is required")
	}
	o := options{bell: os.Stderr}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.clock == nil {
		o.clock = clock.Real{}
	}
	s := &Session{cfg: cfg, clock: o.clock, logger: o.logger, store: o.store}
	if s.store == nil {
		st, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.store = st
		s.ownsStore = true
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), "journey.log"), logbook.WithClock(o.clock.Now))
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.logbook = lb
	s.snapshots = store.NewSnapshots(cfg.ActiveSnapshotPath())
	s.persister = store.NewPersister(s.store,
		store.WithPersisterLogger(o.logger),
		store.WithSnapshots(s.snapshots),
	)
	if err := s.recover(ctx); err != nil {
		o.logger.Warn("Session recovery failed", "error", err)
	}

	sinks := notify.Multi{notify.LogSink{Logger: o.logger}}
	if cfg.Project.Notifications.BellEnabled() && o.bell != nil {
		sinks = append(sinks, notify.Bell{W: o.bell})
	}
	sinks = append(sinks, o.sinks...)

	engineOpts := []engine.Option{
		engine.WithLogger(o.logger),
		engine.WithSink(sinks),
		engine.WithHooks(engine.MergeHooks(append([]engine.Hooks{s.hooks()}, o.hooks...)...)),
		engine.WithDefaultNotification(cfg.Project.Notifications.Default()),
		engine.WithAutoAdvance(cfg.Project.Engine.AdvancesAutomatically()),
	}
	ec := cfg.Project.Engine
	if ec.TickInterval > 0 {
		engineOpts = append(engineOpts, engine.WithTickInterval(ec.TickInterval))
	}
	if ec.TransitionDelay > 0 {
		engineOpts = append(engineOpts, engine.WithTransitionDelay(ec.TransitionDelay))
	}
	if ec.MaxQueueSize > 0 {
		engineOpts = append(engineOpts, engine.WithQueueSize(ec.MaxQueueSize))
	}
	if ec.ReentrancyWindow > 0 {
		engineOpts = append(engineOpts, engine.WithReentrancyWindow(ec.ReentrancyWindow))
	}
	engineOpts = append(engineOpts, engine.WithClock(o.clock))
	s.Engine = engine.New(engineOpts...)
	return s, nil
}

// recover closes out an execution mirrored by a session that never
// finished.
func (s *Session) recover(ctx context.Context) error {
	snap, err := s.snapshots.Load()
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	state := snap.Execution.Clone()
	if !state.Finished() {
		state.Finalize(snap.SavedAt, execution.StatusStopped)
	}
	if err := s.store.SaveExecution(ctx, state); err != nil {
		return fmt.Errorf("session: save interrupted execution: %w", err)
	}
	s.recovered = &state
	s.logbook.Warn("recovered interrupted run of %s (%d steps recorded)", state.RoutineID, len(state.StepExecutions))
	return s.snapshots.Clear()
}

// Recovered returns the execution closed out by Open, if any.
func (s *Session) Recovered() (execution.State, bool) {
	if s.recovered == nil {
		return execution.State{}, false
	}
	return s.recovered.Clone(), true
}

func (s *Session) hooks() engine.Hooks {
	return engine.Hooks{
		OnStepActivated: func(step routine.Step) {
			s.track(step.ID)
		},
		OnStepUpdate: s.persister.Update,
		OnStepComplete: func(step routine.Step, rec execution.StepRecord) {
			s.logbook.StepResolved(step, rec)
			s.track("")
		},
		OnTransition: s.logbook.CueShown,
		OnQueueOverflow: func(req transition.Request) {
			s.logbook.Warn("dropped cue before %s: queue full", req.ToStepID)
		},
		OnExecutionComplete: func(st execution.State) {
			s.logbook.RunFinished(st)
			s.persister.Complete(st)
		},
	}
}

// track mirrors the live execution for crash recovery. Hooks run outside
// the engine lock, so reading a snapshot here is safe.
func (s *Session) track(stepID string) {
	snap := s.Engine.Snapshot()
	if snap.Execution == nil {
		return
	}
	if stepID == "" && snap.Step != nil {
		stepID = snap.Step.ID
	}
	s.persister.Track(store.ActiveSnapshot{
		RoutineID: snap.RoutineID,
		StepID:    stepID,
		SavedAt:   s.clock.Now(),
		Execution: *snap.Execution,
	})
}

// Start begins r and notes it in the logbook.
func (s *Session) Start(r routine.Routine) error {
	if err := s.Engine.Start(r); err != nil {
		s.logbook.Error("could not start %s: %v", r.DisplayName(), err)
		return err
	}
	s.logbook.RoutineStarted(r)
	return nil
}

// Config returns the project configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Logbook returns the routine logbook.
func (s *Session) Logbook() *logbook.Logbook { return s.logbook }

// Store returns the history backend.
func (s *Session) Store() store.Store { return s.store }

// Persister returns the write-behind queue in front of the store.
func (s *Session) Persister() *store.Persister { return s.persister }

// Run flushes history until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.persister.Run(ctx)
}

// Close stops a running execution, flushes pending history and closes the
// store when the session opened it.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.Engine != nil {
		errs = append(errs, s.Engine.Stop())
	}
	errs = append(errs, s.persister.Flush(ctx))
	errs = append(errs, s.closeStore())
	return errors.Join(errs...)
}

func (s *Session) closeStore() error {
	if !s.ownsStore || s.store == nil {
		return nil
	}
	return s.store.Close()
}
