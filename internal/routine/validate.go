package routine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field constraints and cross-step invariants: unique step
// ids, strictly increasing unique orders, cue consistency, extension data
// only on domain kinds and a parseable schedule. An empty step list is
// allowed here; starting an empty routine is rejected by the engine.
func (r Routine) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("routine %s: %w", r.ID, describeValidation(err))
	}
	ids := map[string]struct{}{}
	orders := map[int]string{}
	for idx, step := range r.Steps {
		if _, dup := ids[step.ID]; dup {
			return fmt.Errorf("routine %s: duplicate step id %s", r.ID, step.ID)
		}
		ids[step.ID] = struct{}{}
		if other, dup := orders[step.Order]; dup {
			return fmt.Errorf("routine %s: steps %s and %s share order %d", r.ID, other, step.ID, step.Order)
		}
		orders[step.Order] = step.ID
		if err := step.validateSemantics(); err != nil {
			return fmt.Errorf("routine %s step[%d] %s: %w", r.ID, idx, step.ID, err)
		}
	}
	if strings.TrimSpace(r.Schedule) != "" {
		if _, err := ParseSchedule(r.Schedule); err != nil {
			return fmt.Errorf("routine %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s Step) validateSemantics() error {
	if s.Cue != nil {
		if s.Cue.Required && s.Cue.AutoDismissSeconds > 0 {
			return errors.New("required cue cannot auto-dismiss")
		}
		if strings.TrimSpace(s.Cue.Text) == "" && strings.TrimSpace(s.Cue.Asset) == "" {
			return errors.New("cue needs text or an asset")
		}
	}
	if len(s.Extension) > 0 && !s.Kind.IsDomain() {
		return fmt.Errorf("extension data is only allowed on medication or health steps, not %q", s.Kind)
	}
	return nil
}

// Normalized clones the routine, trims identifiers, defaults step kinds,
// orders steps by Order and validates the result.
func (r Routine) Normalized() (Routine, error) {
	clone := r.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Name = strings.TrimSpace(clone.Name)
	clone.Schedule = strings.TrimSpace(clone.Schedule)
	for i := range clone.Steps {
		step := &clone.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		step.Title = strings.TrimSpace(step.Title)
		step.Kind = Kind(strings.ToLower(strings.TrimSpace(string(step.Kind))))
		if step.Kind == "" {
			step.Kind = KindTask
		}
		if step.Cue != nil {
			step.Cue.Kind = CueKind(strings.ToLower(strings.TrimSpace(string(step.Cue.Kind))))
			if step.Cue.Kind == "" {
				step.Cue.Kind = CueText
			}
		}
	}
	sort.SliceStable(clone.Steps, func(i, j int) bool {
		return clone.Steps[i].Order < clone.Steps[j].Order
	})
	if err := clone.Validate(); err != nil {
		return Routine{}, err
	}
	return clone, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.TrimPrefix(fe.Namespace(), "Routine."), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
