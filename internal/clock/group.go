package clock

import (
	"fmt"
	"sync"
	"time"
)

// Group tracks callbacks scheduled on a Clock so an owner can cancel all of
// them at once.
type Group struct {
	clock  Clock
	mu     sync.Mutex
	timers map[string]Timer
	nextID int64
}

// NewGroup creates an empty group scheduling on c. A nil clock uses Real.
func NewGroup(c Clock) *Group {
	if c == nil {
		c = Real{}
	}
	return &Group{clock: c, timers: make(map[string]Timer)}
}

// After schedules fn after delay and returns an id usable with Cancel.
func (g *Group) After(delay time.Duration, fn func()) string {
	g.mu.Lock()
	g.nextID++
	id := fmt.Sprintf("timer_%d", g.nextID)
	// Reserve the slot first so a callback firing before AfterFunc returns
	// still finds itself live.
	g.timers[id] = nil
	g.mu.Unlock()

	t := g.clock.AfterFunc(delay, func() {
		g.mu.Lock()
		_, live := g.timers[id]
		delete(g.timers, id)
		g.mu.Unlock()
		if live {
			fn()
		}
	})

	g.mu.Lock()
	if _, ok := g.timers[id]; ok {
		g.timers[id] = t
	}
	g.mu.Unlock()
	return id
}

// Cancel stops a single scheduled callback. Unknown ids are ignored.
func (g *Group) Cancel(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[id]; ok {
		if t != nil {
			t.Stop()
		}
		delete(g.timers, id)
	}
}

// Stop cancels every callback scheduled through the group.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		if t != nil {
			t.Stop()
		}
		delete(g.timers, id)
	}
}
