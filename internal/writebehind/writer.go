// Package writebehind implements a single-flight, retrying writer that
// persists the latest value of one unit of in-memory state.
//
// A Writer never blocks its caller. Requests arriving while a write is in
// flight are coalesced into one follow-up write, and the value to persist is
// loaded when a write starts, so the most recent state is always the one
// that reaches disk. A failed write is retried after a fixed delay until it
// succeeds or a newer request supersedes the retry.
package writebehind

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetryDelay is the wait between a failed write and its retry.
const DefaultRetryDelay = 16 * time.Second

type state int

const (
	idle state = iota
	inFlight
	inFlightDirty // a newer value arrived while writing
)

// Config describes one persisted unit.
type Config[T any] struct {
	// Name identifies the unit in log messages.
	Name string
	// Load returns the current value of the unit. Returning false means the
	// unit no longer exists; the write then completes as a no-op.
	Load func() (T, bool)
	// Persist writes v to durable storage.
	Persist func(v T) error
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Writer persists one unit of state in the background.
type Writer[T any] struct {
	name       string
	load       func() (T, bool)
	persist    func(T) error
	retryDelay time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	state    state
	retry    *time.Timer
	retryGen uint64
	failures int
	stopped  bool
	done     chan struct{} // non-nil while busy, closed when quiescent
}

// New creates a Writer. Load and Persist are required.
func New[T any](cfg Config[T]) *Writer[T] {
	if cfg.Load == nil || cfg.Persist == nil {
		panic("writebehind: Load and Persist are required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer[T]{
		name:       cfg.Name,
		load:       cfg.Load,
		persist:    cfg.Persist,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

// Request schedules a write of the unit's current value and returns
// immediately.
func (w *Writer[T]) Request() {
	w.mu.Lock()
	start := w.requestLocked()
	w.mu.Unlock()
	if start {
		go w.run()
	}
}

// requestLocked advances the state machine and reports whether the caller
// must start a write goroutine.
func (w *Writer[T]) requestLocked() bool {
	w.stopped = false
	switch w.state {
	case inFlight:
		w.state = inFlightDirty
		return false
	case inFlightDirty:
		return false
	}
	w.cancelRetryLocked()
	w.state = inFlight
	if w.done == nil {
		w.done = make(chan struct{})
	}
	return true
}

func (w *Writer[T]) run() {
	for {
		err := w.write()

		w.mu.Lock()
		if w.state == inFlightDirty {
			w.state = inFlight
			w.mu.Unlock()
			continue
		}
		w.state = idle
		if err != nil && w.stopped {
			w.logger.Warn("writebehind: write failed after stop",
				slog.String("unit", w.name),
				slog.String("error", err.Error()))
			w.settleLocked()
		} else if err != nil {
			w.failures++
			w.logger.Warn("writebehind: write failed, retry scheduled",
				slog.String("unit", w.name),
				slog.Int("failures", w.failures),
				slog.Duration("retry_in", w.retryDelay),
				slog.String("error", err.Error()))
			w.scheduleRetryLocked()
		} else {
			if w.failures > 0 {
				w.logger.Info("writebehind: write recovered",
					slog.String("unit", w.name),
					slog.Int("failures", w.failures))
			}
			w.failures = 0
			w.settleLocked()
		}
		w.mu.Unlock()
		return
	}
}

func (w *Writer[T]) write() error {
	v, ok := w.load()
	if !ok {
		return nil
	}
	return w.persist(v)
}

func (w *Writer[T]) scheduleRetryLocked() {
	w.retryGen++
	gen := w.retryGen
	w.retry = time.AfterFunc(w.retryDelay, func() {
		w.mu.Lock()
		if w.retry == nil || w.retryGen != gen {
			w.mu.Unlock()
			return
		}
		w.retry = nil
		start := w.requestLocked()
		w.mu.Unlock()
		if start {
			w.run()
		}
	})
}

func (w *Writer[T]) cancelRetryLocked() {
	if w.retry != nil {
		w.retry.Stop()
		w.retry = nil
	}
}

// settleLocked releases waiters once nothing is in flight or scheduled.
func (w *Writer[T]) settleLocked() {
	if w.state == idle && w.retry == nil && w.done != nil {
		close(w.done)
		w.done = nil
	}
}

// Wait blocks until no write is in flight and no retry is scheduled, or
// until ctx is done.
func (w *Writer[T]) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether a write is in flight or a retry is scheduled.
func (w *Writer[T]) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done != nil
}

// Stop cancels a scheduled retry. A write already in flight completes;
// if it fails it is not retried until the next Request.
func (w *Writer[T]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.cancelRetryLocked()
	w.settleLocked()
}
