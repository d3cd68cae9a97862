package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kingrea/cadence/internal/execution"
)

// DefaultFlushInterval is how long step updates are coalesced.
const DefaultFlushInterval = 2 * time.Second

// PersisterOption customizes a Persister.
type PersisterOption func(*Persister)

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) PersisterOption {
	return func(p *Persister) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithPersisterLogger routes write failures to logger.
func WithPersisterLogger(logger *slog.Logger) PersisterOption {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSnapshots mirrors every finished flush into the active snapshot file
// and clears it when the execution is finalized.
func WithSnapshots(s *Snapshots) PersisterOption {
	return func(p *Persister) { p.snapshots = s }
}

type updateKey struct {
	execution string
	step      string
}

// Persister debounces engine output before it reaches a Store. Step updates
// for the same step are coalesced to the latest one; finalized executions
// are written on the next flush, which Complete triggers immediately.
type Persister struct {
	store     Store
	logger    *slog.Logger
	interval  time.Duration
	snapshots *Snapshots

	mu      sync.Mutex
	order   []updateKey
	pending map[updateKey]execution.StepUpdate
	live    *ActiveSnapshot
	final   []execution.State
	wake    chan struct{}
}

// NewPersister wraps store.
func NewPersister(store Store, opts ...PersisterOption) *Persister {
	p := &Persister{
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: DefaultFlushInterval,
		pending:  make(map[updateKey]execution.StepUpdate),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Update queues a step update. It matches engine.Hooks.OnStepUpdate.
func (p *Persister) Update(u execution.StepUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := updateKey{execution: u.ExecutionID, step: u.StepID}
	if _, ok := p.pending[key]; !ok {
		p.order = append(p.order, key)
	}
	p.pending[key] = u
}

// Track records the live execution for the active snapshot.
func (p *Persister) Track(snap ActiveSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = &snap
}

// Complete queues a finalized execution and wakes the flush loop. It
// matches engine.Hooks.OnExecutionComplete.
func (p *Persister) Complete(s execution.State) {
	p.mu.Lock()
	p.final = append(p.final, s.Clone())
	p.live = nil
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many coalesced updates await the next flush.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Flush writes everything queued so far. Failed writes are re-queued.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	order, pending, final, live := p.order, p.pending, p.final, p.live
	p.order = nil
	p.pending = make(map[updateKey]execution.StepUpdate)
	p.final = nil
	p.mu.Unlock()

	var errs []error
	var failed []execution.StepUpdate
	for _, key := range order {
		u := pending[key]
		if err := p.store.RecordStepUpdate(ctx, u); err != nil {
			errs = append(errs, err)
			failed = append(failed, u)
		}
	}
	var unsaved []execution.State
	for _, s := range final {
		if err := p.store.SaveExecution(ctx, s); err != nil {
			errs = append(errs, err)
			unsaved = append(unsaved, s)
		}
	}
	if p.snapshots != nil {
		switch {
		case live != nil:
			if err := p.snapshots.Save(*live); err != nil {
				errs = append(errs, err)
			}
		case len(final) > 0:
			if err := p.snapshots.Clear(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(failed) > 0 || len(unsaved) > 0 {
		p.mu.Lock()
		for _, u := range failed {
			key := updateKey{execution: u.ExecutionID, step: u.StepID}
			if _, newer := p.pending[key]; newer {
				continue
			}
			p.order = append(p.order, key)
			p.pending[key] = u
		}
		p.final = append(unsaved, p.final...)
		p.mu.Unlock()
	}
	err := errors.Join(errs...)
	if err != nil {
		p.logger.Warn("Persister flush failed", "error", err, "requeued", len(failed)+len(unsaved))
	}
	return err
}

// Run flushes on every interval and whenever an execution completes, until
// ctx is cancelled; a last flush runs on the way out.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			_ = p.Flush(ctx)
		case <-p.wake:
			_ = p.Flush(ctx)
		}
	}
}
