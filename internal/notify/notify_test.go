package notify

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	calls []string
	err   error
}

func (r *recordingSink) PlayTone(Intensity) error {
	r.calls = append(r.calls, "tone")
	return r.err
}

func (r *recordingSink) Vibrate([]time.Duration) error {
	r.calls = append(r.calls, "vibrate")
	return r.err
}

func (r *recordingSink) Flash(Intensity) error {
	r.calls = append(r.calls, "flash")
	return r.err
}

func TestDeliverSelectsChannels(t *testing.T) {
	cases := map[Kind][]string{
		KindVisual:    {"flash"},
		KindAudio:     {"tone"},
		KindVibration: {"vibrate"},
		KindAll:       {"flash", "tone", "vibrate"},
		"":            {"flash"},
	}
	for kind, want := range cases {
		sink := &recordingSink{}
		if err := Deliver(sink, Notification{Kind: kind}); err != nil {
			t.Fatalf("deliver %q: %v", kind, err)
		}
		if len(sink.calls) != len(want) {
			t.Fatalf("kind %q calls = %v, want %v", kind, sink.calls, want)
		}
		for i := range want {
			if sink.calls[i] != want[i] {
				t.Fatalf("kind %q calls = %v, want %v", kind, sink.calls, want)
			}
		}
	}
}

func TestDeliverAttemptsAllChannelsOnError(t *testing.T) {
	sink := &recordingSink{err: errors.New("no speaker")}
	err := Deliver(sink, Notification{Kind: KindAll})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(sink.calls) != 3 {
		t.Fatalf("calls = %v, want all three channels attempted", sink.calls)
	}
}

func TestVibrationPatternScalesWithIntensity(t *testing.T) {
	if len(VibrationPattern(IntensitySubtle)) >= len(VibrationPattern(IntensityProminent)) {
		t.Fatalf("prominent pattern should be longer than subtle")
	}
}

func TestBellRingsForTones(t *testing.T) {
	var buf bytes.Buffer
	bell := Bell{W: &buf}
	if err := Deliver(bell, Notification{Kind: KindAudio, Intensity: IntensityProminent}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if buf.String() != "\a\a" {
		t.Fatalf("expected two bells, got %q", buf.String())
	}
	buf.Reset()
	_ = Deliver(bell, Notification{Kind: KindVisual})
	if buf.Len() != 0 {
		t.Fatalf("visual notifications should not ring, got %q", buf.String())
	}
}
