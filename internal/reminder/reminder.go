// Package reminder fires "routine due" notifications for routines that
// declare a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kingrea/cadence/internal/routine"
)

// Due is delivered when a routine's schedule fires.
type Due struct {
	RoutineID string    `json:"routine_id"`
	Name      string    `json:"name"`
	At        time.Time `json:"at"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger routes scheduler diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocation evaluates schedules in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Scheduler wraps a cron runner keyed by routine id.
type Scheduler struct {
	logger   *slog.Logger
	location *time.Location
	onDue    func(Due)
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	names   map[string]string
}

// New builds a stopped scheduler calling onDue for each firing.
func New(onDue func(Due), opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		location: time.Local,
		onDue:    onDue,
		entries:  make(map[string]cron.EntryID),
		names:    make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s
}

// Add schedules r, replacing an earlier entry for the same id. Routines
// without a schedule are ignored.
func (s *Scheduler) Add(r routine.Routine) error {
	expr := strings.TrimSpace(r.Schedule)
	if expr == "" {
		return nil
	}
	sched, err := routine.ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("reminder: routine %s: %w", r.ID, err)
	}
	due := Due{RoutineID: r.ID, Name: r.DisplayName()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[r.ID]; ok {
		s.cron.Remove(id)
	}
	s.entries[r.ID] = s.cron.Schedule(sched, cron.FuncJob(func() {
		fired := due
		fired.At = time.Now().In(s.location)
		s.logger.Info("Reminder due", "routine", fired.RoutineID)
		if s.onDue != nil {
			s.onDue(fired)
		}
	}))
	s.names[r.ID] = due.Name
	return nil
}

// Sync replaces every entry with the schedules of routines.
func (s *Scheduler) Sync(routines []routine.Routine) error {
	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
		delete(s.names, id)
	}
	s.mu.Unlock()
	for _, r := range routines {
		if err := s.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of scheduled routines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Next lists the next firing of each scheduled routine, earliest first.
// Before Start the times are computed from now.
func (s *Scheduler) Next(now time.Time) []routine.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]routine.Occurrence, 0, len(s.entries))
	for id, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		at := entry.Next
		if at.IsZero() && entry.Schedule != nil {
			at = entry.Schedule.Next(now.In(s.location))
		}
		out = append(out, routine.Occurrence{RoutineID: id, Name: s.names[id], At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Fire runs the job for routineID immediately. It reports false for
// unknown ids.
func (s *Scheduler) Fire(routineID string) bool {
	s.mu.Lock()
	entryID, ok := s.entries[routineID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry := s.cron.Entry(entryID)
	if entry.Job == nil {
		return false
	}
	entry.Job.Run()
	return true
}

// Run starts the cron runner and blocks until ctx is cancelled, then waits
// for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("Reminder scheduler started", "routines", s.Len())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("Cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("Cron "+msg, append([]any{"error", err}, keysAndValues...)...)
}
