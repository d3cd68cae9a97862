// Package transition serializes the presentation of transition cues so the
// user never sees more than one at a time. Requests are ordered by priority
// (required cues first) and arrival time, bounded in number, and resolve
// through exactly one of their callbacks.
//
// A Queue is not safe for concurrent use. Scheduled callbacks (the
// coalescing delay and auto-dismiss) run through the injected clock, so an
// owner that serializes access wraps the clock to re-enter its own lock.
package transition
