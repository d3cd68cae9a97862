// Package engine drives one routine execution from start to finish.
//
// Every host operation and every scheduled callback (timer ticks, cue
// presentation, cue auto-dismiss) is turned into an event and applied under
// a single mutex, so state transitions are atomic from a caller's point of
// view. Scheduled callbacks carry the generation of the execution that
// armed them and become no-ops once that execution is stopped or replaced.
//
// Hooks are delivered outside the lock, in emission order, so a hook may
// call back into the engine.
package engine
