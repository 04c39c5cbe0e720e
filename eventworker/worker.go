// Package eventworker runs a background goroutine that pushes one event per
// turn, sleeping between turns, until it is asked to stop.
//
// The worker moves through NotStarted -> Running -> Stopping -> Finished.
// The controller may call Start and RequestStop and read the state and the
// counters; only the worker goroutine writes the counters and the finished
// flag.
package eventworker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PushFunc pushes one event. A returned error is counted, never propagated.
type PushFunc func(ctx context.Context) error

// Worker owns the running/finished flags and the success and error counters.
type Worker struct {
	push   PushFunc
	sleep  time.Duration
	logger *slog.Logger

	running  atomic.Bool
	finished atomic.Bool

	mu      sync.Mutex
	success uint32
	errors  uint32

	startOnce sync.Once
	stopOnce  sync.Once
	wake      chan struct{}
	done      chan struct{}
}

// New creates a worker that is eligible to run as soon as it is started.
func New(push PushFunc, sleep time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	w := &Worker{
		push:   push,
		sleep:  sleep,
		logger: logger,
		wake:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.running.Store(true)

	return w
}

// Start launches the worker goroutine. Calls after the first are no-ops.
// Cancelling ctx stops the worker like RequestStop.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// RequestStop asks the worker to stop. It takes effect at the next flag
// check; an in-flight push is allowed to complete.
func (w *Worker) RequestStop() {
	setFlag(&w.running, false)
	w.stopOnce.Do(func() { close(w.wake) })
}

// IsRunning reports whether the worker has not been asked to stop.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// IsFinished reports whether the worker goroutine has left its loop.
func (w *Worker) IsFinished() bool {
	return w.finished.Load()
}

// SuccessCount returns the number of events pushed successfully.
func (w *Worker) SuccessCount() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.success
}

// ErrorCount returns the number of failed pushes.
func (w *Worker) ErrorCount() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.errors
}

// Done is closed once the worker has finished.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker has finished or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	for w.running.Load() && ctx.Err() == nil {
		if err := w.push(ctx); err != nil {
			w.logger.Debug("push event failed", slog.String("error", err.Error()))

			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
		} else {
			w.mu.Lock()
			w.success++
			w.mu.Unlock()
		}

		if !w.running.Load() {
			break
		}

		timer := time.NewTimer(w.sleep)
		select {
		case <-timer.C:
		case <-w.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if ctx.Err() != nil {
		setFlag(&w.running, false)
	}
	setFlag(&w.finished, true)
}

// setFlag stores v with a compare-and-swap, retrying until the swap lands.
func setFlag(flag *atomic.Bool, v bool) {
	for {
		old := flag.Load()
		if flag.CompareAndSwap(old, v) {
			return
		}
	}
}
