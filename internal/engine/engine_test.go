package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/kingrea/cadence/internal/clock"
	"github.com/kingrea/cadence/internal/execution"
	"github.com/kingrea/cadence/internal/notify"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/timer"
	"github.com/kingrea/cadence/internal/transition"
)

var t0 = time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)

type harness struct {
	fake        *clock.Fake
	eng         *Engine
	finished    []execution.State
	records     []execution.StepRecord
	activated   []string
	transitions []transition.Presentation
	updates     []execution.StepUpdate
	warnings    []string
	flashes     int
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{fake: clock.NewFake(t0)}
	hooks := Hooks{
		OnExecutionComplete: func(s execution.State) { h.finished = append(h.finished, s) },
		OnStepComplete: func(_ routine.Step, rec execution.StepRecord) {
			h.records = append(h.records, rec)
		},
		OnStepActivated: func(s routine.Step) { h.activated = append(h.activated, s.ID) },
		OnStepUpdate:    func(u execution.StepUpdate) { h.updates = append(h.updates, u) },
		OnTransition: func(p transition.Presentation) {
			h.transitions = append(h.transitions, p)
		},
		OnTimerWarning: func(s routine.Step, _ timer.State) { h.warnings = append(h.warnings, s.ID) },
	}
	sink := notify.Funcs{Screen: func(notify.Intensity) error {
		h.flashes++
		return nil
	}}
	base := []Option{WithClock(h.fake), WithHooks(hooks), WithSink(sink)}
	h.eng = New(append(base, opts...)...)
	return h
}

func autoStart() *routine.TimerConfig { return &routine.TimerConfig{AutoStart: true} }

func noOverrun() *routine.TimerConfig {
	off := false
	return &routine.TimerConfig{AutoStart: true, AllowOverrun: &off}
}

func morning() routine.Routine {
	return routine.Routine{
		ID:   "morning",
		Name: "Morning",
		Steps: []routine.Step{
			{ID: "wake", Title: "Wake up", DurationMinutes: 5, Order: 1, Kind: routine.KindTask, Timer: autoStart()},
			{ID: "shower", Title: "Shower", DurationMinutes: 15, Order: 2, Kind: routine.KindFlexible, Timer: autoStart()},
			{ID: "meds", Title: "Medication", DurationMinutes: 10, Order: 3, Kind: routine.KindMedication, Timer: autoStart(),
				Cue: &routine.Cue{Kind: routine.CueText, Text: "Take your meds", Required: true}},
		},
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEndToEndMorningRoutine(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))

	h.fake.Advance(5 * time.Minute)
	if h.flashes != 1 {
		t.Fatalf("expected end notification for step 1, got %d", h.flashes)
	}
	mustNoErr(t, h.eng.CompleteCurrentStep())

	h.fake.Advance(20 * time.Minute)
	snap := h.eng.Snapshot()
	if snap.Timer == nil || snap.Timer.Overrun != 5*time.Minute || snap.Timer.Remaining != 0 {
		t.Fatalf("expected 5 minute overrun on step 2, got %+v", snap.Timer)
	}
	if len(h.records) != 1 {
		t.Fatalf("overrun step must not auto-complete, got %d records", len(h.records))
	}
	mustNoErr(t, h.eng.CompleteCurrentStep())

	if _, ok := h.eng.Current(); ok {
		t.Fatalf("step 3 must wait for its cue")
	}
	if len(h.activated) != 2 {
		t.Fatalf("expected two activations before the cue, got %v", h.activated)
	}
	h.fake.Advance(DefaultTransitionDelay)
	if len(h.transitions) != 1 {
		t.Fatalf("expected the required cue to be presented, got %d", len(h.transitions))
	}
	cue := h.transitions[0]
	if cue.Dismissible || cue.FromStepID != "shower" || cue.ToStepID != "meds" {
		t.Fatalf("unexpected presentation %+v", cue)
	}
	if err := h.eng.DismissTransition(cue.RequestID); !errors.Is(err, transition.ErrAcknowledgementRequired) {
		t.Fatalf("expected ErrAcknowledgementRequired, got %v", err)
	}
	mustNoErr(t, h.eng.AcknowledgeTransition(cue.RequestID))
	if step, ok := h.eng.Current(); !ok || step.ID != "meds" {
		t.Fatalf("acknowledging should activate step 3, got %+v", step)
	}

	h.fake.Advance(5 * time.Minute)
	mustNoErr(t, h.eng.CompleteCurrentStep())

	if len(h.finished) != 1 {
		t.Fatalf("expected one completion, got %d", len(h.finished))
	}
	final := h.finished[0]
	if final.TotalDurationMinutes != 30 {
		t.Fatalf("expected 30 minutes total, got %d", final.TotalDurationMinutes)
	}
	if final.Status != execution.StatusCompleted || final.Count(execution.StepCompleted) != 3 {
		t.Fatalf("expected 3 completed records, got %+v", final.StepExecutions)
	}
	want := []int{5, 20, 5}
	for i, rec := range final.StepExecutions {
		if rec.ActualMinutes != want[i] {
			t.Fatalf("record %d: expected %d minutes, got %d", i, want[i], rec.ActualMinutes)
		}
	}
	snap = h.eng.Snapshot()
	if snap.Running() || snap.Phase != "idle" || snap.Last == nil {
		t.Fatalf("engine should be idle with the last run retained, got %+v", snap)
	}
}

func TestStartEmptyRoutine(t *testing.T) {
	h := newHarness(t)
	err := h.eng.Start(routine.Routine{ID: "empty"})
	if !errors.Is(err, ErrEmptyRoutine) {
		t.Fatalf("expected ErrEmptyRoutine, got %v", err)
	}
	snap := h.eng.Snapshot()
	if snap.Execution != nil || snap.Phase != "idle" || snap.StepIndex != execution.Idle {
		t.Fatalf("empty routine must not touch state, got %+v", snap)
	}
	if len(h.activated) != 0 || len(h.updates) != 0 || h.fake.Pending() != 0 {
		t.Fatalf("empty routine must not schedule or notify anything")
	}
}

func TestStartActivatesLowestOrderOnce(t *testing.T) {
	h := newHarness(t)
	r := routine.Routine{ID: "r", Steps: []routine.Step{
		{ID: "c", Title: "C", DurationMinutes: 1, Order: 3},
		{ID: "a", Title: "A", DurationMinutes: 1, Order: 1},
		{ID: "b", Title: "B", DurationMinutes: 1, Order: 2},
	}}
	mustNoErr(t, h.eng.Start(r))
	if len(h.activated) != 1 || h.activated[0] != "a" {
		t.Fatalf("expected a single activation of the lowest order step, got %v", h.activated)
	}
	snap := h.eng.Snapshot()
	if snap.Timer == nil || snap.Timer.Running {
		t.Fatalf("timer should wait for StartTimer, got %+v", snap.Timer)
	}
	mustNoErr(t, h.eng.StartTimer())
	h.fake.Advance(10 * time.Second)
	if got := h.eng.Snapshot().Timer.Elapsed; got != 10*time.Second {
		t.Fatalf("expected 10s elapsed, got %s", got)
	}
	if len(h.activated) != 1 {
		t.Fatalf("starting the timer must not reactivate, got %v", h.activated)
	}
}

func TestAutoCompleteWhenOverrunDisallowed(t *testing.T) {
	h := newHarness(t)
	r := routine.Routine{ID: "r", Steps: []routine.Step{
		{ID: "plank", Title: "Plank", DurationMinutes: 3, Order: 1, Timer: noOverrun()},
		{ID: "rest", Title: "Rest", DurationMinutes: 2, Order: 2},
	}}
	mustNoErr(t, h.eng.Start(r))
	h.fake.Advance(3 * time.Minute)

	if len(h.records) != 1 || h.records[0].ActualMinutes != 3 || h.records[0].Status != execution.StepCompleted {
		t.Fatalf("expected auto-completion with 3 minutes, got %+v", h.records)
	}
	if h.flashes != 1 {
		t.Fatalf("expected exactly one end notification, got %d", h.flashes)
	}
	if step, ok := h.eng.Current(); !ok || step.ID != "rest" {
		t.Fatalf("expected next step active, got %+v", step)
	}
}

func TestOverrunNeverAutoCompletes(t *testing.T) {
	h := newHarness(t)
	r := routine.Routine{ID: "r", Steps: []routine.Step{
		{ID: "read", Title: "Read", DurationMinutes: 10, Order: 1, Kind: routine.KindFlexible, Timer: autoStart()},
	}}
	mustNoErr(t, h.eng.Start(r))
	h.fake.Advance(30 * time.Minute)
	snap := h.eng.Snapshot()
	if len(h.records) != 0 {
		t.Fatalf("overrun step auto-completed")
	}
	if snap.Timer.Remaining != 0 || snap.Timer.Elapsed != 30*time.Minute {
		t.Fatalf("expected remaining 0 and elapsed growing, got %+v", snap.Timer)
	}
	if h.flashes != 1 {
		t.Fatalf("expected a single notification, got %d", h.flashes)
	}
}

func TestDoubleCompleteWithinWindowRecordsOnce(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(time.Minute)
	mustNoErr(t, h.eng.CompleteCurrentStep())
	mustNoErr(t, h.eng.CompleteCurrentStep())
	h.fake.Advance(100 * time.Millisecond)
	mustNoErr(t, h.eng.SkipCurrentStep("double tap"))

	if len(h.records) != 1 || h.records[0].StepID != "wake" {
		t.Fatalf("expected a single record, got %+v", h.records)
	}
	h.fake.Advance(DefaultReentrancyWindow)
	mustNoErr(t, h.eng.CompleteCurrentStep())
	if len(h.records) != 2 || h.records[1].StepID != "shower" {
		t.Fatalf("expected the guard to release after the window, got %+v", h.records)
	}
}

func TestSkipRecordsReason(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(2 * time.Minute)
	mustNoErr(t, h.eng.SkipCurrentStep("overslept"))
	rec := h.records[0]
	if rec.Status != execution.StepSkipped || rec.ActualMinutes != 0 || rec.Notes != "Skipped: overslept" {
		t.Fatalf("unexpected skip record %+v", rec)
	}
	last := h.updates[len(h.updates)-1]
	if last.StepID != "shower" || last.Status != execution.StepPending {
		t.Fatalf("expected the next step to be reported pending, got %+v", last)
	}
	skipped := h.updates[len(h.updates)-2]
	if skipped.StepID != "wake" || skipped.Status != execution.StepSkipped {
		t.Fatalf("expected a skipped update, got %+v", skipped)
	}
}

func TestCompleteWithExplicitDurationAndNotes(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(time.Minute)
	mustNoErr(t, h.eng.CompleteCurrentStep(WithActualDuration(61*time.Second), WithNotes("slow start")))
	rec := h.records[0]
	if rec.ActualMinutes != 2 || rec.Notes != "slow start" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.StartedAt.Equal(t0) || rec.CompletedAt == nil || !rec.CompletedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected record timestamps %+v", rec)
	}
}

func TestRunToEndProducesOneRecordPerStep(t *testing.T) {
	h := newHarness(t)
	r := morning()
	r.Steps[2].Cue = nil
	mustNoErr(t, h.eng.Start(r))
	for range r.Steps {
		h.fake.Advance(time.Minute)
		mustNoErr(t, h.eng.CompleteCurrentStep())
	}
	if len(h.finished) != 1 {
		t.Fatalf("expected completion, got %d", len(h.finished))
	}
	final := h.finished[0]
	if len(final.StepExecutions) != len(r.Steps) {
		t.Fatalf("expected %d records, got %d", len(r.Steps), len(final.StepExecutions))
	}
	if final.StepExecutions[2].StepID != "meds" || final.CurrentStepIndex != len(r.Steps) {
		t.Fatalf("unexpected final state %+v", final)
	}
	if h.fake.Pending() != 0 {
		t.Fatalf("finished run left %d callbacks scheduled", h.fake.Pending())
	}
}

func TestGoToStepIsPureCursorMove(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.GoToStep(1))

	mustNoErr(t, h.eng.Start(morning()))
	if err := h.eng.GoToStep(3); !errors.Is(err, ErrInvalidStepIndex) {
		t.Fatalf("expected ErrInvalidStepIndex, got %v", err)
	}
	if err := h.eng.GoToStep(-1); !errors.Is(err, ErrInvalidStepIndex) {
		t.Fatalf("expected ErrInvalidStepIndex, got %v", err)
	}
	if step, _ := h.eng.Current(); step.ID != "wake" {
		t.Fatalf("invalid jump changed the step to %s", step.ID)
	}
	mustNoErr(t, h.eng.GoToStep(2))
	if step, ok := h.eng.Current(); !ok || step.ID != "meds" {
		t.Fatalf("expected meds active, got %+v", step)
	}
	if len(h.records) != 0 {
		t.Fatalf("jumping must not append records, got %+v", h.records)
	}
}

func TestStopDuringTransitionClearsQueue(t *testing.T) {
	h := newHarness(t)
	r := morning()
	mustNoErr(t, h.eng.Start(r))
	mustNoErr(t, h.eng.GoToStep(1))
	mustNoErr(t, h.eng.CompleteCurrentStep())
	mustNoErr(t, h.eng.Stop())

	h.fake.Advance(time.Minute)
	if len(h.transitions) != 0 {
		t.Fatalf("stopped run presented a cue")
	}
	if len(h.finished) != 1 || h.finished[0].Status != execution.StatusStopped {
		t.Fatalf("expected a stopped execution, got %+v", h.finished)
	}
	if len(h.finished[0].StepExecutions) != 1 {
		t.Fatalf("stopped execution should keep partial records, got %+v", h.finished[0].StepExecutions)
	}
	if h.fake.Pending() != 0 {
		t.Fatalf("stop left %d callbacks scheduled", h.fake.Pending())
	}
	mustNoErr(t, h.eng.Stop())
	if len(h.finished) != 1 {
		t.Fatalf("stopping an idle engine must be a no-op")
	}
}

func TestRestartIgnoresStaleCallbacks(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(1500 * time.Millisecond)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(2 * time.Second)

	if len(h.finished) != 1 || h.finished[0].Status != execution.StatusStopped {
		t.Fatalf("restart should stop the previous run, got %+v", h.finished)
	}
	snap := h.eng.Snapshot()
	if snap.Timer.Elapsed != 2*time.Second {
		t.Fatalf("new run timer polluted by stale ticks: %s", snap.Timer.Elapsed)
	}
	if snap.Execution.ID == h.finished[0].ID {
		t.Fatalf("restart must create a fresh execution id")
	}
}

func TestIdleOperationsAreNoOps(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.CompleteCurrentStep())
	mustNoErr(t, h.eng.SkipCurrentStep(""))
	mustNoErr(t, h.eng.Pause())
	mustNoErr(t, h.eng.Resume())
	mustNoErr(t, h.eng.StartTimer())
	mustNoErr(t, h.eng.Stop())
	if len(h.records)+len(h.updates)+len(h.finished) != 0 {
		t.Fatalf("idle operations produced side effects")
	}
	if p := h.eng.Progress(); p != (execution.Progress{}) {
		t.Fatalf("expected zero progress, got %+v", p)
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(time.Minute)
	mustNoErr(t, h.eng.Pause())
	h.fake.Advance(5 * time.Minute)
	if snap := h.eng.Snapshot(); !snap.Timer.Paused || snap.Timer.Elapsed != time.Minute {
		t.Fatalf("paused timer kept counting: %+v", snap.Timer)
	}
	if h.fake.Pending() != 0 {
		t.Fatalf("paused engine should not tick")
	}
	mustNoErr(t, h.eng.Resume())
	h.fake.Advance(time.Minute)
	if got := h.eng.Snapshot().Timer.Elapsed; got != 2*time.Minute {
		t.Fatalf("expected 2m elapsed, got %s", got)
	}
}

func TestWarningFiresOnce(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(4 * time.Minute)
	if len(h.warnings) != 1 || h.warnings[0] != "wake" {
		t.Fatalf("expected one warning for wake, got %v", h.warnings)
	}
}

func TestHookMayCallBackIntoEngine(t *testing.T) {
	var eng *Engine
	fake := clock.NewFake(t0)
	var activated []string
	eng = New(WithClock(fake), WithHooks(Hooks{
		OnTransition: func(p transition.Presentation) {
			if err := eng.AcknowledgeTransition(p.RequestID); err != nil {
				t.Errorf("acknowledge from hook: %v", err)
			}
		},
		OnStepActivated: func(s routine.Step) {
			activated = append(activated, s.ID)
			_ = eng.Snapshot()
		},
	}))
	r := morning()
	mustNoErr(t, eng.Start(r))
	mustNoErr(t, eng.GoToStep(1))
	mustNoErr(t, eng.CompleteCurrentStep())
	fake.Advance(DefaultTransitionDelay)

	want := []string{"wake", "shower", "meds"}
	if len(activated) != len(want) {
		t.Fatalf("expected %v, got %v", want, activated)
	}
	for i := range want {
		if activated[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, activated)
		}
	}
}

func TestFailedTransitionStillAdvances(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	mustNoErr(t, h.eng.GoToStep(1))
	mustNoErr(t, h.eng.CompleteCurrentStep())
	h.fake.Advance(DefaultTransitionDelay)
	mustNoErr(t, h.eng.FailTransition(h.transitions[0].RequestID, errors.New("asset missing")))
	if step, ok := h.eng.Current(); !ok || step.ID != "meds" {
		t.Fatalf("expected meds active after failure, got %+v", step)
	}
	if err := h.eng.AcknowledgeTransition(h.transitions[0].RequestID); !errors.Is(err, transition.ErrUnknownRequest) {
		t.Fatalf("resolved cue must not resolve twice, got %v", err)
	}
}

func TestProgressDuringRun(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(6 * time.Minute)
	mustNoErr(t, h.eng.CompleteCurrentStep())
	h.fake.Advance(3 * time.Minute)

	p := h.eng.Progress()
	if p.CompletedSteps != 1 || p.TotalSteps != 3 {
		t.Fatalf("unexpected counts %+v", p)
	}
	if p.ActualSpentMinutes != 9 {
		t.Fatalf("expected 9 minutes spent, got %d", p.ActualSpentMinutes)
	}
	if p.EstimatedRemainingMinutes != 22 {
		t.Fatalf("expected 22 minutes remaining, got %d", p.EstimatedRemainingMinutes)
	}
}

func TestMergeHooksCallsInOrder(t *testing.T) {
	var calls []string
	merged := MergeHooks(
		Hooks{OnStepActivated: func(routine.Step) { calls = append(calls, "first") }},
		Hooks{},
		Hooks{OnStepActivated: func(routine.Step) { calls = append(calls, "second") }},
	)
	if merged.OnTick != nil {
		t.Fatalf("unset hooks should stay nil")
	}
	merged.OnStepActivated(routine.Step{ID: "a"})
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected call order %v", calls)
	}
}

func cuedPair(cue routine.Cue) routine.Routine {
	return routine.Routine{
		ID: "pair",
		Steps: []routine.Step{
			{ID: "a", Title: "A", DurationMinutes: 5, Order: 1, Timer: autoStart()},
			{ID: "b", Title: "B", DurationMinutes: 5, Order: 2, Timer: autoStart(), Cue: &cue},
		},
	}
}

func TestDismissedCueStillAdvances(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(cuedPair(routine.Cue{Kind: routine.CueText, Text: "Next up"})))
	mustNoErr(t, h.eng.CompleteCurrentStep())
	h.fake.Advance(DefaultTransitionDelay)
	if len(h.transitions) != 1 || !h.transitions[0].Dismissible {
		t.Fatalf("expected a dismissible cue, got %+v", h.transitions)
	}
	mustNoErr(t, h.eng.DismissTransition(h.transitions[0].RequestID))
	if step, ok := h.eng.Current(); !ok || step.ID != "b" {
		t.Fatalf("dismissing should activate b, got %+v ok=%v", step, ok)
	}
	if len(h.activated) != 2 || h.activated[1] != "b" {
		t.Fatalf("expected activations [a b], got %v", h.activated)
	}
	if len(h.records) != 1 {
		t.Fatalf("dismissal must not record a step, got %d records", len(h.records))
	}
}

func TestAutoDismissedCueActivatesStep(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(cuedPair(routine.Cue{Kind: routine.CueText, Text: "Next up", AutoDismissSeconds: 3})))
	mustNoErr(t, h.eng.CompleteCurrentStep())
	h.fake.Advance(DefaultTransitionDelay)
	if _, ok := h.eng.Current(); ok {
		t.Fatalf("b must wait while the cue is shown")
	}
	h.fake.Advance(3 * time.Second)
	if step, ok := h.eng.Current(); !ok || step.ID != "b" {
		t.Fatalf("auto-dismiss should activate b, got %+v ok=%v", step, ok)
	}
	if snap := h.eng.Snapshot(); snap.Awaiting() {
		t.Fatalf("cue should be gone after auto-dismiss")
	}
}

func TestPresentNextTransitionSkipsDelay(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.PresentNextTransition())

	mustNoErr(t, h.eng.Start(cuedPair(routine.Cue{Kind: routine.CueText, Text: "Next up"})))
	mustNoErr(t, h.eng.CompleteCurrentStep())
	if snap := h.eng.Snapshot(); snap.Queued != 1 || snap.Transition != nil {
		t.Fatalf("expected one waiting cue, got queued=%d transition=%v", snap.Queued, snap.Transition)
	}
	mustNoErr(t, h.eng.PresentNextTransition())
	if len(h.transitions) != 1 {
		t.Fatalf("expected the cue to be presented at once, got %d", len(h.transitions))
	}
	if snap := h.eng.Snapshot(); snap.Queued != 0 || !snap.Awaiting() {
		t.Fatalf("expected the cue presented and nothing queued, got %+v", snap)
	}
	h.fake.Advance(DefaultTransitionDelay)
	if len(h.transitions) != 1 {
		t.Fatalf("the delayed presentation must not fire again, got %d", len(h.transitions))
	}
}

func TestSnapshotReportsLiveElapsed(t *testing.T) {
	h := newHarness(t)
	mustNoErr(t, h.eng.Start(morning()))
	h.fake.Advance(45 * time.Second)
	snap := h.eng.Snapshot()
	if snap.Execution == nil || snap.Execution.ElapsedSeconds != 45 {
		t.Fatalf("expected 45 elapsed seconds mid-run, got %+v", snap.Execution)
	}
	h.fake.Advance(15 * time.Second)
	mustNoErr(t, h.eng.CompleteCurrentStep())
	if got := h.eng.Snapshot().Execution.ElapsedSeconds; got != 60 {
		t.Fatalf("expected 60 elapsed seconds after the first step, got %d", got)
	}
}

func TestPauseAfterMissedTicksCarriesToNextStep(t *testing.T) {
	h := newHarness(t, WithTickInterval(time.Hour))
	r := routine.Routine{
		ID: "short",
		Steps: []routine.Step{
			{ID: "a", Title: "A", DurationMinutes: 2, Order: 1, Timer: noOverrun()},
			{ID: "b", Title: "B", DurationMinutes: 5, Order: 2, Timer: autoStart()},
		},
	}
	mustNoErr(t, h.eng.Start(r))
	h.fake.Advance(2*time.Minute + time.Second)
	if len(h.records) != 0 {
		t.Fatalf("no tick should have fired yet")
	}

	mustNoErr(t, h.eng.Pause())
	if len(h.records) != 1 || h.records[0].StepID != "a" {
		t.Fatalf("pause should catch up and complete a, got %+v", h.records)
	}
	snap := h.eng.Snapshot()
	if snap.Step == nil || snap.Step.ID != "b" || snap.Timer == nil || !snap.Timer.Paused {
		t.Fatalf("expected b active and paused, got step=%+v timer=%+v", snap.Step, snap.Timer)
	}
	if h.fake.Pending() != 0 {
		t.Fatalf("a paused step must not keep a tick armed, got %d", h.fake.Pending())
	}
	h.fake.Advance(3 * time.Minute)
	mustNoErr(t, h.eng.Resume())
	if got := h.eng.Snapshot().Timer.Elapsed; got != 0 {
		t.Fatalf("b should not have counted while paused, got %s", got)
	}
}
