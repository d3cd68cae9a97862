package routine

import (
	"sort"
	"strings"
	"time"

	"github.com/kingrea/cadence/internal/notify"
)

// Kind tags what a step represents. Domain kinds (medication, health) carry
// an opaque Extension payload that only editors and storage interpret.
type Kind string

const (
	KindTask       Kind = "task"
	KindFlexible   Kind = "flexible"
	KindNote       Kind = "note"
	KindMedication Kind = "medication"
	KindHealth     Kind = "health"
)

// IsDomain reports whether the kind may carry extension data.
func (k Kind) IsDomain() bool {
	return k == KindMedication || k == KindHealth
}

// OpenEnded reports whether the step is a flexible zone.
func (k Kind) OpenEnded() bool {
	return k == KindFlexible
}

// CueKind is the presentation style of a transition cue.
type CueKind string

const (
	CueText   CueKind = "text"
	CueAudio  CueKind = "audio"
	CueVisual CueKind = "visual"
	CueMixed  CueKind = "mixed"
)

// Cue interrupts the flow when entering a step. A required cue must be
// acknowledged and therefore may not auto-dismiss.
type Cue struct {
	Kind               CueKind `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=text audio visual mixed"`
	Text               string  `json:"text,omitempty" yaml:"text,omitempty"`
	Asset              string  `json:"asset,omitempty" yaml:"asset,omitempty"`
	AutoDismissSeconds int     `json:"auto_dismiss_seconds,omitempty" yaml:"auto_dismiss_seconds,omitempty" validate:"gte=0"`
	Required           bool    `json:"required,omitempty" yaml:"required,omitempty"`
}

// AutoDismiss returns the auto-dismiss delay, zero when disabled.
func (c Cue) AutoDismiss() time.Duration {
	if c.Required || c.AutoDismissSeconds <= 0 {
		return 0
	}
	return time.Duration(c.AutoDismissSeconds) * time.Second
}

// TimerConfig is the optional per-step timer configuration. Nil fields fall
// back to defaults when the engine builds the step timer.
type TimerConfig struct {
	AutoStart       bool                 `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
	WarningMinutes  *int                 `json:"warning_minutes,omitempty" yaml:"warning_minutes,omitempty" validate:"omitempty,gte=0"`
	AllowOverrun    *bool                `json:"allow_overrun,omitempty" yaml:"allow_overrun,omitempty"`
	EndNotification *notify.Notification `json:"end_notification,omitempty" yaml:"end_notification,omitempty"`
}

// AttachmentKind distinguishes note text from sketch payloads.
type AttachmentKind string

const (
	AttachmentNote   AttachmentKind = "note"
	AttachmentSketch AttachmentKind = "sketch"
)

// Attachment is free-form content owned by the editors.
type Attachment struct {
	Kind       AttachmentKind `json:"kind" yaml:"kind" validate:"oneof=note sketch"`
	Content    string         `json:"content" yaml:"content"`
	ModifiedAt time.Time      `json:"modified_at,omitempty" yaml:"modified_at,omitempty"`
	Synced     bool           `json:"synced,omitempty" yaml:"synced,omitempty"`
}

// Extension carries kind-specific data (dosage, vitals...). Opaque to the
// runtime.
type Extension map[string]any

// Clone returns a shallow copy.
func (e Extension) Clone() Extension {
	if len(e) == 0 {
		return nil
	}
	out := make(Extension, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Step is one unit of work in a routine.
type Step struct {
	ID              string       `json:"id" yaml:"id" validate:"required"`
	Title           string       `json:"title" yaml:"title" validate:"required"`
	Description     string       `json:"description,omitempty" yaml:"description,omitempty"`
	DurationMinutes int          `json:"duration_minutes" yaml:"duration_minutes" validate:"gt=0"`
	Kind            Kind         `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=task flexible note medication health"`
	Order           int          `json:"order" yaml:"order" validate:"gte=1"`
	Cue             *Cue         `json:"cue,omitempty" yaml:"cue,omitempty"`
	Timer           *TimerConfig `json:"timer,omitempty" yaml:"timer,omitempty"`
	Attachment      *Attachment  `json:"attachment,omitempty" yaml:"attachment,omitempty"`
	Extension       Extension    `json:"extension,omitempty" yaml:"extension,omitempty"`
}

// Planned returns the planned duration.
func (s Step) Planned() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// HasCue reports whether entering this step interjects a transition cue.
func (s Step) HasCue() bool {
	return s.Cue != nil
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	clone := s
	if s.Cue != nil {
		cue := *s.Cue
		clone.Cue = &cue
	}
	if s.Timer != nil {
		cfg := *s.Timer
		if s.Timer.WarningMinutes != nil {
			v := *s.Timer.WarningMinutes
			cfg.WarningMinutes = &v
		}
		if s.Timer.AllowOverrun != nil {
			v := *s.Timer.AllowOverrun
			cfg.AllowOverrun = &v
		}
		if s.Timer.EndNotification != nil {
			v := *s.Timer.EndNotification
			cfg.EndNotification = &v
		}
		clone.Timer = &cfg
	}
	if s.Attachment != nil {
		att := *s.Attachment
		clone.Attachment = &att
	}
	clone.Extension = s.Extension.Clone()
	return clone
}

// Routine is an ordered collection of steps.
type Routine struct {
	ID          string            `json:"id" yaml:"id" validate:"required"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Schedule    string            `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Steps       []Step            `json:"steps" yaml:"steps" validate:"dive"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DisplayName prefers Name and falls back to ID.
func (r Routine) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return r.ID
}

// Clone returns a deep copy of the routine.
func (r Routine) Clone() Routine {
	clone := Routine{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Schedule:    r.Schedule,
	}
	if len(r.Steps) > 0 {
		clone.Steps = make([]Step, len(r.Steps))
		for i, step := range r.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	if len(r.Metadata) > 0 {
		clone.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Ordered returns a copy of the steps sorted by ascending Order.
func (r Routine) Ordered() []Step {
	steps := make([]Step, len(r.Steps))
	for i, step := range r.Steps {
		steps[i] = step.Clone()
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
	return steps
}

// PlannedMinutes sums the planned duration of every step.
func (r Routine) PlannedMinutes() int {
	total := 0
	for _, step := range r.Steps {
		total += step.DurationMinutes
	}
	return total
}
