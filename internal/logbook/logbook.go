// Package logbook keeps the human-readable journey log of routine runs in
// .cadence/logs/journey.log.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/transition"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists run progress to a simple text file.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock injects the timestamp source (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	l := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.clock().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// RoutineStarted notes the beginning of a run.
func (l *Logbook) RoutineStarted(r routine.Routine) {
	l.Info("started %s (%d steps, %d min planned)", r.DisplayName(), len(r.Steps), r.PlannedMinutes())
}

// StepResolved notes a completed or skipped step.
func (l *Logbook) StepResolved(step routine.Step, rec execution.StepRecord) {
	switch rec.Status {
	case execution.StepSkipped:
		l.Warn("skipped %s: %s", step.Title, strings.TrimPrefix(strings.TrimPrefix(rec.Notes, "Skipped"), ": "))
	default:
		planned := step.DurationMinutes
		if rec.ActualMinutes > planned {
			l.Info("completed %s in %d min (%d over)", step.Title, rec.ActualMinutes, rec.ActualMinutes-planned)
			return
		}
		l.Info("completed %s in %d min", step.Title, rec.ActualMinutes)
	}
}

// CueShown notes a transition cue presented to the user.
func (l *Logbook) CueShown(p transition.Presentation) {
	text := p.Cue.Text
	if text == "" {
		text = p.Cue.Asset
	}
	if p.Dismissible {
		l.Info("cue before %s: %s", p.ToStepID, text)
		return
	}
	l.Info("required cue before %s: %s", p.ToStepID, text)
}

// RunFinished notes the end of a run.
func (l *Logbook) RunFinished(s execution.State) {
	done := s.Count(execution.StepCompleted)
	skipped := s.Count(execution.StepSkipped)
	if s.Status == execution.StatusStopped {
		l.Warn("stopped after %d min (%d completed, %d skipped)", s.TotalDurationMinutes, done, skipped)
		return
	}
	l.Info("finished in %d min (%d completed, %d skipped)", s.TotalDurationMinutes, done, skipped)
}
