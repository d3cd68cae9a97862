// Package notify defines the capability the engine uses to get the user's
// attention at the end of a step timer. Hosts supply the platform side
// (terminal bell, phone vibration, screen flash); the engine only calls the
// Sink.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Kind selects which channels an end-of-timer notification uses.
type Kind string

const (
	KindVisual    Kind = "visual"
	KindAudio     Kind = "audio"
	KindVibration Kind = "vibration"
	KindAll       Kind = "all"
)

// Intensity scales how loud/long/bright a notification is.
type Intensity string

const (
	IntensitySubtle    Intensity = "subtle"
	IntensityNormal    Intensity = "normal"
	IntensityProminent Intensity = "prominent"
)

// Notification is the per-step end-of-timer configuration.
type Notification struct {
	Kind      Kind      `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=visual audio vibration all"`
	Intensity Intensity `json:"intensity,omitempty" yaml:"intensity,omitempty" validate:"omitempty,oneof=subtle normal prominent"`
}

// Default is used when a step does not configure its end notification.
var Default = Notification{Kind: KindVisual, Intensity: IntensityNormal}

// Normalized fills unset or unknown fields from Default.
func (n Notification) Normalized() Notification {
	n.Kind = Kind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
	n.Intensity = Intensity(strings.ToLower(strings.TrimSpace(string(n.Intensity))))
	switch n.Kind {
	case KindVisual, KindAudio, KindVibration, KindAll:
	default:
		n.Kind = Default.Kind
	}
	switch n.Intensity {
	case IntensitySubtle, IntensityNormal, IntensityProminent:
	default:
		n.Intensity = Default.Intensity
	}
	return n
}

// Sink is implemented by hosts. Methods should return quickly; they are
// called from the engine's event path.
type Sink interface {
	PlayTone(intensity Intensity) error
	Vibrate(pattern []time.Duration) error
	Flash(intensity Intensity) error
}

// VibrationPattern maps an intensity to an on/off pattern.
func VibrationPattern(intensity Intensity) []time.Duration {
	switch intensity {
	case IntensitySubtle:
		return []time.Duration{150 * time.Millisecond}
	case IntensityProminent:
		return []time.Duration{
			400 * time.Millisecond, 150 * time.Millisecond,
			400 * time.Millisecond, 150 * time.Millisecond,
			400 * time.Millisecond,
		}
	default:
		return []time.Duration{250 * time.Millisecond, 120 * time.Millisecond, 250 * time.Millisecond}
	}
}

// Deliver fans a notification out to the sink channels its kind selects.
// Every selected channel is attempted; the first error is returned.
func Deliver(sink Sink, n Notification) error {
	if sink == nil {
		return nil
	}
	n = n.Normalized()
	var firstErr error
	record := func(channel string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("notify: %s: %w", channel, err)
		}
	}
	if n.Kind == KindVisual || n.Kind == KindAll {
		record("flash", sink.Flash(n.Intensity))
	}
	if n.Kind == KindAudio || n.Kind == KindAll {
		record("tone", sink.PlayTone(n.Intensity))
	}
	if n.Kind == KindVibration || n.Kind == KindAll {
		record("vibrate", sink.Vibrate(VibrationPattern(n.Intensity)))
	}
	return firstErr
}

// Nop discards notifications.
type Nop struct{}

func (Nop) PlayTone(Intensity) error      { return nil }
func (Nop) Vibrate([]time.Duration) error { return nil }
func (Nop) Flash(Intensity) error         { return nil }

// Funcs adapts plain functions into a Sink. Nil fields are no-ops.
type Funcs struct {
	Tone      func(Intensity) error
	Vibration func([]time.Duration) error
	Screen    func(Intensity) error
}

func (f Funcs) PlayTone(i Intensity) error {
	if f.Tone == nil {
		return nil
	}
	return f.Tone(i)
}

func (f Funcs) Vibrate(p []time.Duration) error {
	if f.Vibration == nil {
		return nil
	}
	return f.Vibration(p)
}

func (f Funcs) Flash(i Intensity) error {
	if f.Screen == nil {
		return nil
	}
	return f.Screen(i)
}

// Multi delivers to every sink in order.
type Multi []Sink

func (m Multi) PlayTone(i Intensity) error {
	return m.each(func(s Sink) error { return s.PlayTone(i) })
}

func (m Multi) Vibrate(p []time.Duration) error {
	return m.each(func(s Sink) error { return s.Vibrate(p) })
}

func (m Multi) Flash(i Intensity) error {
	return m.each(func(s Sink) error { return s.Flash(i) })
}

func (m Multi) each(fn func(Sink) error) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := fn(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogSink records notifications through slog. Useful for headless hosts.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogSink) PlayTone(i Intensity) error {
	l.logger().Info("Notify tone", "intensity", i)
	return nil
}

func (l LogSink) Vibrate(p []time.Duration) error {
	l.logger().Info("Notify vibrate", "pulses", len(p))
	return nil
}

func (l LogSink) Flash(i Intensity) error {
	l.logger().Info("Notify flash", "intensity", i)
	return nil
}

// Bell rings the terminal bell for tones, twice when prominent. Vibration
// and flashes are left to other sinks.
type Bell struct {
	W io.Writer
}

func (b Bell) PlayTone(i Intensity) error {
	if b.W == nil {
		return nil
	}
	rings := 1
	if i == IntensityProminent {
		rings = 2
	}
	_, err := io.WriteString(b.W, strings.Repeat("\a", rings))
	return err
}

func (Bell) Vibrate([]time.Duration) error { return nil }
func (Bell) Flash(Intensity) error         { return nil }
