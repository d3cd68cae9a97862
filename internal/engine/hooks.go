package engine

// MergeHooks returns Hooks that call each non-nil hook of every set in
// argument order.
func MergeHooks(sets ...Hooks) Hooks {
	var merged Hooks
	for _, h := range sets {
		merged.OnExecutionComplete = chain1(merged.OnExecutionComplete, h.OnExecutionComplete)
		merged.OnStepComplete = chain2(merged.OnStepComplete, h.OnStepComplete)
		merged.OnStepActivated = chain1(merged.OnStepActivated, h.OnStepActivated)
		merged.OnStepUpdate = chain1(merged.OnStepUpdate, h.OnStepUpdate)
		merged.OnTransition = chain1(merged.OnTransition, h.OnTransition)
		merged.OnTimerWarning = chain2(merged.OnTimerWarning, h.OnTimerWarning)
		merged.OnTick = chain2(merged.OnTick, h.OnTick)
		merged.OnQueueOverflow = chain1(merged.OnQueueOverflow, h.OnQueueOverflow)
	}
	return merged
}

func chain1[A any](first, next func(A)) func(A) {
	switch {
	case first == nil:
		return next
	case next == nil:
		return first
	}
	return func(a A) {
		first(a)
		next(a)
	}
}

func chain2[A, B any](first, next func(A, B)) func(A, B) {
	switch {
	case first == nil:
		return next
	case next == nil:
		return first
	}
	return func(a A, b B) {
		first(a, b)
		next(a, b)
	}
}
