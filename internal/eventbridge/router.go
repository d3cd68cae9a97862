package eventbridge

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router fans engine events out to stream subscribers with buffering,
// deduplication, and bounded channel semantics. Subscribers filter by
// routine id; an empty filter receives everything.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]string
	backlog      []Event
	sequence     int64
	seen         map[string]struct{}
	seenOrder    []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
	clock        func() time.Time
}

// Subscription represents an active stream subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[*subscriber]string{},
		seen:         map[string]struct{}{},
		seenOrder:    make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides how many events are held while nobody
// is subscribed.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// RouterWithClock stamps published events with clock.
func RouterWithClock(clock func() time.Time) RouterOption {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Subscribe registers a stream. The first subscriber drains the backlog.
func (r *Router) Subscribe(routineID string) Subscription {
	filter := normalizeID(routineID)
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []Event
	r.mu.Lock()
	r.subscribers[sub] = filter
	if len(r.backlog) > 0 {
		backlog = r.backlog
		r.backlog = nil
	}
	r.mu.Unlock()
	for _, event := range backlog {
		if matches(filter, event) {
			sub.deliver(event)
		}
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(sub)
		},
	}
}

// Subscribers reports the number of open subscriptions.
func (r *Router) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Publish stamps and routes event. It returns the routed copy, or false
// when the event id was seen recently.
func (r *Router) Publish(event Event) (Event, bool) {
	event.Normalize()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if r.seenBefore(event.EventID) {
		return event, false
	}
	event.StampServerTime(r.clock())
	r.mu.Lock()
	r.sequence++
	event.Sequence = r.sequence
	if len(r.subscribers) == 0 {
		r.bufferLocked(event)
		r.mu.Unlock()
		return event, true
	}
	subs := make([]*subscriber, 0, len(r.subscribers))
	for sub, filter := range r.subscribers {
		if matches(filter, event) {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
	return event, true
}

// Close ends every subscription.
func (r *Router) Close() {
	r.mu.Lock()
	subs := r.subscribers
	r.subscribers = map[*subscriber]string{}
	r.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (r *Router) removeSubscriber(sub *subscriber) {
	r.mu.Lock()
	delete(r.subscribers, sub)
	r.mu.Unlock()
	sub.close()
}

func (r *Router) bufferLocked(event Event) {
	if event.Type == EventTick {
		return
	}
	if len(r.backlog) >= r.backlogLimit {
		r.backlog = r.backlog[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop (limit %d)", r.backlogLimit)
		}
	}
	r.backlog = append(r.backlog, event)
}

func (r *Router) seenBefore(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[eventID]; ok {
		return true
	}
	r.seen[eventID] = struct{}{}
	r.seenOrder = append(r.seenOrder, eventID)
	if excess := len(r.seenOrder) - r.dedupeWindow; excess > 0 {
		for _, id := range r.seenOrder[:excess] {
			delete(r.seen, id)
		}
		r.seenOrder = r.seenOrder[excess:]
	}
	return false
}

func matches(filter string, event Event) bool {
	if filter == "" || event.RoutineID == "" {
		return true
	}
	return filter == normalizeID(event.RoutineID)
}

func normalizeID(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

type subscriber struct {
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver holds closeMu so a concurrent close cannot race the send. A full
// channel gives up either its oldest entry or the incoming one, whichever
// ranks lower.
func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// The reader drained the channel in between.
		s.ch <- event
		return
	}
	kept, dropped := event, oldest
	if dropRank(oldest.Type) > dropRank(event.Type) {
		kept, dropped = oldest, event
	}
	s.ch <- kept
	if s.logger != nil {
		s.logger.Printf("eventbridge: subscriber behind, dropped %s #%d", dropped.Type, dropped.Sequence)
	}
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// dropRank orders event types by how readily they are discarded when a
// subscriber falls behind. The lower rank goes first; ties drop the older.
func dropRank(kind string) int {
	switch kind {
	case EventTick:
		return 0
	case EventExecutionComplete, EventError:
		return 2
	default:
		return 1
	}
}
