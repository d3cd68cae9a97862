package transition

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/cadence/internal/clock"
)

const (
	// DefaultMaxSize bounds the number of pending requests.
	DefaultMaxSize = 5
	// DefaultDelay coalesces rapid triggers into one presentation.
	DefaultDelay = 100 * time.Millisecond
)

var (
	// ErrAcknowledgementRequired is returned when dismissing a required cue.
	ErrAcknowledgementRequired = errors.New("transition: cue must be acknowledged")
	// ErrUnknownRequest is returned when the id is not the presented request.
	ErrUnknownRequest = errors.New("transition: request is not presented")
)

// Option customizes a Queue.
type Option func(*Queue)

// WithMaxSize overrides DefaultMaxSize. Values < 1 are ignored.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithAutoAdvance toggles presenting the next request after a resolution.
func WithAutoAdvance(enabled bool) Option {
	return func(q *Queue) { q.autoAdvance = enabled }
}

// WithDelay overrides the coalescing delay. Zero presents synchronously.
func WithDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.delay = d
		}
	}
}

// WithClock injects the clock used for timestamps and scheduled callbacks.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// OnPresent registers the surface callback invoked when a request is shown.
func OnPresent(fn func(Presentation)) Option {
	return func(q *Queue) { q.onPresent = fn }
}

// OnOverflow registers a hook invoked with each request dropped because the
// queue was full. The dropped request's OnDismiss runs first.
func OnOverflow(fn func(Request)) Option {
	return func(q *Queue) { q.onOverflow = fn }
}

// OnResolve registers a hook invoked after every resolution.
func OnResolve(fn func(Request, Outcome)) Option {
	return func(q *Queue) { q.onResolve = fn }
}

type entry struct {
	req Request
	seq int64
}

// Queue holds pending requests and presents them one at a time.
type Queue struct {
	clock       clock.Clock
	maxSize     int
	autoAdvance bool
	delay       time.Duration

	pending []entry
	current *entry
	seq     int64
	gen     int64

	timers    *clock.Group
	presentID string
	dismissID string

	onPresent  func(Presentation)
	onOverflow func(Request)
	onResolve  func(Request, Outcome)
}

// New builds an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:       clock.Real{},
		maxSize:     DefaultMaxSize,
		autoAdvance: true,
		delay:       DefaultDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	q.timers = clock.NewGroup(q.clock)
	return q
}

// Len reports the number of pending (not presented) requests.
func (q *Queue) Len() int { return len(q.pending) }

// Current returns the presented request, if any.
func (q *Queue) Current() (Presentation, bool) {
	if q.current == nil {
		return Presentation{}, false
	}
	return q.current.req.presentation(q.clock.Now()), true
}

// Enqueue adds a request. When the queue is full the oldest-arrival pending
// request is dropped (its OnDismiss runs) and returned.
func (q *Queue) Enqueue(req Request) *Request {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ArrivedAt.IsZero() {
		req.ArrivedAt = q.clock.Now()
	}
	if req.Priority == "" {
		req.Priority = PriorityFor(req.Cue)
	}
	var dropped *Request
	if len(q.pending) >= q.maxSize {
		idx := q.oldestIndex()
		victim := q.pending[idx].req
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
		dropped = &victim
	}
	q.seq++
	q.pending = append(q.pending, entry{req: req, seq: q.seq})
	if dropped != nil {
		if dropped.OnDismiss != nil {
			dropped.OnDismiss(*dropped)
		}
		if q.onOverflow != nil {
			q.onOverflow(*dropped)
		}
		if q.onResolve != nil {
			q.onResolve(*dropped, OutcomeDropped)
		}
	}
	if q.current == nil {
		q.schedulePresentation()
	}
	return dropped
}

// DequeueNext removes and returns the next request: high priority first,
// then earliest arrival.
func (q *Queue) DequeueNext() (Request, bool) {
	if len(q.pending) == 0 {
		return Request{}, false
	}
	best := 0
	for i := 1; i < len(q.pending); i++ {
		if q.before(q.pending[i], q.pending[best]) {
			best = i
		}
	}
	picked := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return picked.req, true
}

// Clear discards pending and presented requests without invoking any
// callback and cancels scheduled presentations.
func (q *Queue) Clear() {
	q.gen++
	q.pending = nil
	q.current = nil
	q.stopTimers()
}

// Next presents the next pending request immediately when nothing is shown.
// Hosts that disable auto-advance call it to pull the following cue.
func (q *Queue) Next() bool {
	if q.current != nil {
		return false
	}
	q.cancelPresentTimer()
	return q.present()
}

// Acknowledge resolves the presented request via OnComplete.
func (q *Queue) Acknowledge(id string) error {
	if _, err := q.presented(id); err != nil {
		return err
	}
	q.resolve(OutcomeAcknowledged, nil)
	return nil
}

// Dismiss resolves the presented request via OnDismiss. Required cues
// return ErrAcknowledgementRequired and stay presented.
func (q *Queue) Dismiss(id string) error {
	cur, err := q.presented(id)
	if err != nil {
		return err
	}
	if !cur.req.Dismissible() {
		return ErrAcknowledgementRequired
	}
	q.resolve(OutcomeDismissed, nil)
	return nil
}

// Fail resolves the presented request via OnError, e.g. when the surface
// could not load the cue's asset.
func (q *Queue) Fail(id string, cause error) error {
	if _, err := q.presented(id); err != nil {
		return err
	}
	if cause == nil {
		cause = errors.New("transition: presentation failed")
	}
	q.resolve(OutcomeFailed, cause)
	return nil
}

func (q *Queue) presented(id string) (*entry, error) {
	if q.current == nil || q.current.req.ID != id {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return q.current, nil
}

func (q *Queue) resolve(outcome Outcome, cause error) {
	q.timers.Cancel(q.dismissID)
	q.dismissID = ""
	req := q.current.req
	q.current = nil
	switch outcome {
	case OutcomeAcknowledged, OutcomeAutoDismissed:
		if req.OnComplete != nil {
			req.OnComplete(req)
		}
	case OutcomeDismissed:
		if req.OnDismiss != nil {
			req.OnDismiss(req)
		}
	case OutcomeFailed:
		if req.OnError != nil {
			req.OnError(req, cause)
		}
	}
	if q.onResolve != nil {
		q.onResolve(req, outcome)
	}
	if q.autoAdvance && q.current == nil && len(q.pending) > 0 {
		q.schedulePresentation()
	}
}

func (q *Queue) schedulePresentation() {
	if q.presentID != "" {
		return
	}
	if q.delay <= 0 {
		q.present()
		return
	}
	gen := q.gen
	q.presentID = q.timers.After(q.delay, func() {
		if gen != q.gen {
			return
		}
		q.presentID = ""
		if q.current == nil {
			q.present()
		}
	})
}

func (q *Queue) present() bool {
	req, ok := q.DequeueNext()
	if !ok {
		return false
	}
	q.seq++
	q.current = &entry{req: req, seq: q.seq}
	if wait := req.Cue.AutoDismiss(); wait > 0 {
		gen, id := q.gen, req.ID
		q.dismissID = q.timers.After(wait, func() {
			if gen != q.gen || q.current == nil || q.current.req.ID != id {
				return
			}
			q.dismissID = ""
			q.resolve(OutcomeAutoDismissed, nil)
		})
	}
	if q.onPresent != nil {
		q.onPresent(req.presentation(q.clock.Now()))
	}
	return true
}

func (q *Queue) before(a, b entry) bool {
	if a.req.Priority.rank() != b.req.Priority.rank() {
		return a.req.Priority.rank() > b.req.Priority.rank()
	}
	if !a.req.ArrivedAt.Equal(b.req.ArrivedAt) {
		return a.req.ArrivedAt.Before(b.req.ArrivedAt)
	}
	return a.seq < b.seq
}

func (q *Queue) oldestIndex() int {
	oldest := 0
	for i := 1; i < len(q.pending); i++ {
		a, b := q.pending[i], q.pending[oldest]
		if a.req.ArrivedAt.Before(b.req.ArrivedAt) || (a.req.ArrivedAt.Equal(b.req.ArrivedAt) && a.seq < b.seq) {
			oldest = i
		}
	}
	return oldest
}

func (q *Queue) cancelPresentTimer() {
	q.timers.Cancel(q.presentID)
	q.presentID = ""
}

func (q *Queue) stopTimers() {
	q.timers.Stop()
	q.presentID = ""
	q.dismissID = ""
}
