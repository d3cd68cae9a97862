package eventbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/cadence/internal/clock"
	"github.com/kingrea/cadence/internal/config"
	"github.com/kingrea/cadence/internal/engine"
	"github.com/kingrea/cadence/internal/routine"
	"github.com/kingrea/cadence/internal/transition"
)

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("CADENCE_BRIDGE_PORT", "9001")
	t.Setenv("CADENCE_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("CADENCE_BRIDGE_ENABLED", "false")
	t.Setenv("CADENCE_BRIDGE_BUFFER", "8")
	cfg, err := config.NewConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
	if settings.Buffer != 8 {
		t.Fatalf("expected buffer 8, got %d", settings.Buffer)
	}
}

func TestSettingsFromConfigDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Project.Bridge.Port = 9100
	settings := SettingsFromConfig(cfg)
	if !settings.Enabled || settings.Port != 9100 || settings.Host != DefaultHost {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.Heartbeat != DefaultHeartbeat || settings.Buffer != defaultSubscriberCapacity {
		t.Fatalf("expected stream defaults, got %+v", settings)
	}
}

func TestSettingsFromConfigIgnoresBadEnv(t *testing.T) {
	t.Setenv("CADENCE_BRIDGE_PORT", "70000")
	t.Setenv("CADENCE_BRIDGE_BUFFER", "-3")
	t.Setenv("CADENCE_BRIDGE_ENABLED", "maybe")
	cfg, err := config.NewConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings := SettingsFromConfig(cfg)
	if settings.Port != DefaultPort || settings.Buffer != defaultSubscriberCapacity || !settings.Enabled {
		t.Fatalf("expected defaults for unparseable overrides, got %+v", settings)
	}
}

func TestCommandValidate(t *testing.T) {
	two := 2
	cases := []struct {
		name string
		cmd  Command
		ok   bool
	}{
		{"pause", Command{Action: "pause"}, true},
		{"present next", Command{Action: "present_next"}, true},
		{"goto", Command{Action: "goto", StepIndex: &two}, true},
		{"goto without index", Command{Action: "goto"}, false},
		{"unknown", Command{Action: "explode"}, false},
		{"missing", Command{}, false},
	}
	for _, tc := range cases {
		err := tc.cmd.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func testRoutine() routine.Routine {
	auto := &routine.TimerConfig{AutoStart: true}
	return routine.Routine{
		ID:   "morning",
		Name: "Morning",
		Steps: []routine.Step{
			{ID: "wake", Title: "Wake up", DurationMinutes: 5, Order: 1, Timer: auto},
			{ID: "meds", Title: "Medication", DurationMinutes: 10, Order: 2, Timer: auto,
				Cue: &routine.Cue{Kind: routine.CueText, Text: "Take your meds", Required: true}},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC))
	eng := engine.New(engine.WithClock(fake))
	settings := Settings{Enabled: true, MaxBodyBytes: 1024, Heartbeat: time.Second}
	srv := NewServer(settings, WithController(eng))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng, fake
}

func postCommand(t *testing.T, base string, cmd map[string]any) (int, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(base+"/commands", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func getProgress(t *testing.T, base string) progressResponse {
	t.Helper()
	resp, err := http.Get(base + "/progress")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 progress, got %d", resp.StatusCode)
	}
	var p progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	return p
}

func TestServerDrivesEngine(t *testing.T) {
	ts, eng, fake := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}
	if p := getProgress(t, ts.URL); p.Phase != "idle" {
		t.Fatalf("expected idle engine, got %s", p.Phase)
	}

	if err := eng.Start(testRoutine()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fake.Advance(5 * time.Minute)
	if status, body := postCommand(t, ts.URL, map[string]any{"action": "complete", "notes": "up"}); status != http.StatusOK {
		t.Fatalf("complete: %d %v", status, body)
	}
	fake.Advance(engine.DefaultTransitionDelay)

	resp, err = http.Get(ts.URL + "/transition")
	if err != nil {
		t.Fatalf("get transition: %v", err)
	}
	var cue transition.Presentation
	_ = json.NewDecoder(resp.Body).Decode(&cue)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || cue.ToStepID != "meds" || cue.Dismissible {
		t.Fatalf("expected required cue for meds, got %d %+v", resp.StatusCode, cue)
	}

	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "dismiss"}); status != http.StatusConflict {
		t.Fatalf("dismissing a required cue should conflict, got %d", status)
	}
	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "acknowledge", "request_id": "nope"}); status != http.StatusNotFound {
		t.Fatalf("unknown request id should be 404, got %d", status)
	}
	if status, body := postCommand(t, ts.URL, map[string]any{"action": "acknowledge"}); status != http.StatusOK {
		t.Fatalf("acknowledge: %d %v", status, body)
	}

	resp, err = http.Get(ts.URL + "/transition")
	if err != nil {
		t.Fatalf("get transition: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected no transition, got %d", resp.StatusCode)
	}
	p := getProgress(t, ts.URL)
	if p.StepID != "meds" || p.Progress.CompletedSteps != 1 || p.Progress.TotalSteps != 2 {
		t.Fatalf("unexpected progress %+v", p)
	}

	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "goto", "step_index": 9}); status != http.StatusUnprocessableEntity {
		t.Fatalf("out of range goto should be 422, got %d", status)
	}
	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "stop"}); status != http.StatusOK {
		t.Fatalf("stop failed with %d", status)
	}
	if p := getProgress(t, ts.URL); p.Phase != "idle" || p.Last == nil {
		t.Fatalf("expected stopped run to be retained, got %+v", p)
	}
}

func TestServerPresentsQueuedCueOnDemand(t *testing.T) {
	ts, eng, fake := newTestServer(t)
	if err := eng.Start(testRoutine()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fake.Advance(time.Minute)
	if status, body := postCommand(t, ts.URL, map[string]any{"action": "complete"}); status != http.StatusOK {
		t.Fatalf("complete: %d %v", status, body)
	}
	if p := getProgress(t, ts.URL); p.Queued != 1 || p.Awaiting {
		t.Fatalf("expected one cue waiting out the delay, got queued=%d awaiting=%v", p.Queued, p.Awaiting)
	}
	if status, body := postCommand(t, ts.URL, map[string]any{"action": "present_next"}); status != http.StatusOK {
		t.Fatalf("present_next: %d %v", status, body)
	}
	p := getProgress(t, ts.URL)
	if p.Queued != 0 || !p.Awaiting {
		t.Fatalf("expected the cue on screen, got queued=%d awaiting=%v", p.Queued, p.Awaiting)
	}
	if cue, ok := eng.Transition(); !ok || cue.ToStepID != "meds" {
		t.Fatalf("expected meds cue, got %+v (%v)", cue, ok)
	}
}

func TestServerRejectsBadCommands(t *testing.T) {
	ts, _, _ := newTestServer(t)
	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "explode"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", status)
	}
	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "goto"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for goto without index, got %d", status)
	}
	big := strings.Repeat("a", 2048)
	if status, _ := postCommand(t, ts.URL, map[string]any{"action": "skip", "reason": big}); status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", status)
	}
	resp, err := http.Get(ts.URL + "/commands")
	if err != nil {
		t.Fatalf("get commands: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestServerStreamsEvents(t *testing.T) {
	settings := Settings{Enabled: true, MaxBodyBytes: 1024, Heartbeat: time.Minute}
	srv := NewServer(settings)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?routine=morning", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	pub := NewPublisher(srv.Router(), nil)
	pub.Error("morning", context.Canceled)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	if lines[0] != "id: 1" || lines[1] != "event: error" {
		t.Fatalf("unexpected frame header %q", lines[:2])
	}
	var evt Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &evt); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if evt.RoutineID != "morning" || !strings.Contains(string(evt.Payload), "context canceled") {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	settings := Settings{Enabled: true, Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}
	srv := NewServer(settings)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	if srv.Status() != StatusReady || srv.Addr() == "" {
		t.Fatalf("expected ready server, got %s at %q", srv.Status(), srv.Addr())
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Status() != StatusDraining {
		t.Fatalf("expected draining status, got %s", srv.Status())
	}
	disabled := NewServer(Settings{})
	if err := disabled.Start(context.Background()); err != ErrServerDisabled {
		t.Fatalf("expected ErrServerDisabled, got %v", err)
	}
}
