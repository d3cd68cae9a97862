package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/transition"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journey.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestJourneyEntries(t *testing.T) {
	at := time.Date(2026, 10, 12, 7, 30, 0, 0, time.UTC)
	book, err := New(filepath.Join(t.TempDir(), "logs", "journey.log"), WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	shower := routine.Step{ID: "shower", Title: "Shower", DurationMinutes: 15}
	book.RoutineStarted(routine.Routine{ID: "morning", Name: "Morning", Steps: []routine.Step{shower}})
	book.StepResolved(shower, execution.StepRecord{Status: execution.StepCompleted, ActualMinutes: 20})
	book.StepResolved(shower, execution.StepRecord{Status: execution.StepSkipped, Notes: "Skipped: no time"})
	book.CueShown(transition.Presentation{ToStepID: "meds", Cue: routine.Cue{Text: "Take meds", Required: true}})
	book.RunFinished(execution.State{Status: execution.StatusStopped, TotalDurationMinutes: 21})

	lines, total := book.Tail(10)
	if total != 5 {
		t.Fatalf("expected 5 entries, got %d: %v", total, lines)
	}
	want := []string{
		"2026-10-12T07:30:00Z INFO  started Morning (1 steps, 15 min planned)",
		"2026-10-12T07:30:00Z INFO  completed Shower in 20 min (5 over)",
		"2026-10-12T07:30:00Z WARN  skipped Shower: no time",
		"2026-10-12T07:30:00Z INFO  required cue before meds: Take meds",
		"2026-10-12T07:30:00Z WARN  stopped after 21 min (0 completed, 0 skipped)",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
