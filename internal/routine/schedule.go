package routine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard 5-field expressions plus descriptors such
// as @daily.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a routine schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Occurrence is one upcoming scheduled run of a routine.
type Occurrence struct {
	RoutineID string
	Name      string
	At        time.Time
}

// NextRuns lists up to n scheduled starts after from. Unscheduled routines
// return nil.
func (r Routine) NextRuns(from time.Time, n int) ([]time.Time, error) {
	if strings.TrimSpace(r.Schedule) == "" || n <= 0 {
		return nil, nil
	}
	sched, err := ParseSchedule(r.Schedule)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	at := from
	for i := 0; i < n; i++ {
		at = sched.Next(at)
		if at.IsZero() {
			break
		}
		runs = append(runs, at)
	}
	return runs, nil
}

// Upcoming merges the scheduled starts of every routine falling within
// window after from, earliest first.
func Upcoming(routines []Routine, from time.Time, window time.Duration) ([]Occurrence, error) {
	limit := from.Add(window)
	var out []Occurrence
	for _, r := range routines {
		if strings.TrimSpace(r.Schedule) == "" {
			continue
		}
		sched, err := ParseSchedule(r.Schedule)
		if err != nil {
			return nil, fmt.Errorf("routine %s: %w", r.ID, err)
		}
		for at := sched.Next(from); !at.IsZero() && !at.After(limit); at = sched.Next(at) {
			out = append(out, Occurrence{RoutineID: r.ID, Name: r.DisplayName(), At: at})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}
