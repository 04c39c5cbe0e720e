package eventworker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFinished(t *testing.T, w *Worker) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Wait(ctx); err != nil {
		t.Fatalf("worker did not finish: %v", err)
	}
}

func TestNewWorkerState(t *testing.T) {
	w := New(func(context.Context) error { return nil }, time.Millisecond, nil)

	if !w.IsRunning() {
		t.Error("new worker should be running")
	}
	if w.IsFinished() {
		t.Error("new worker should not be finished")
	}
	if w.SuccessCount() != 0 || w.ErrorCount() != 0 {
		t.Errorf("counters = %d/%d, want 0/0", w.SuccessCount(), w.ErrorCount())
	}
}

func TestStartThenImmediateStop(t *testing.T) {
	var pushes atomic.Int32
	w := New(func(context.Context) error {
		pushes.Add(1)
		return nil
	}, time.Hour, nil)

	w.Start(context.Background())
	w.RequestStop()

	waitFinished(t, w)

	if !w.IsFinished() {
		t.Error("IsFinished() = false after Done closed")
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}

	success, failed := w.SuccessCount(), w.ErrorCount()
	if uint32(pushes.Load()) != success+failed {
		t.Errorf("pushes = %d, counted %d", pushes.Load(), success+failed)
	}

	time.Sleep(20 * time.Millisecond)
	if w.SuccessCount() != success || w.ErrorCount() != failed {
		t.Error("counters changed after the worker finished")
	}
}

func TestStopInterruptsSleep(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	w := New(func(context.Context) error {
		once.Do(func() { close(started) })
		return nil
	}, time.Hour, nil)

	w.Start(context.Background())
	<-started

	stopAt := time.Now()
	w.RequestStop()
	waitFinished(t, w)

	if elapsed := time.Since(stopAt); elapsed > time.Second {
		t.Errorf("stop took %v, expected the sleep to be interrupted", elapsed)
	}
	if got := w.SuccessCount(); got != 1 {
		t.Errorf("success = %d, want 1", got)
	}
}

func TestCancelStopsWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pushes atomic.Int32
	w := New(func(context.Context) error {
		pushes.Add(1)
		return nil
	}, time.Millisecond, nil)

	w.Start(ctx)
	for pushes.Load() < 3 {
		time.Sleep(time.Millisecond)
	}

	cancel()
	waitFinished(t, w)

	if w.IsRunning() {
		t.Error("IsRunning() = true after cancel")
	}

	final := w.SuccessCount()
	time.Sleep(20 * time.Millisecond)
	if got := w.SuccessCount(); got != final {
		t.Errorf("success changed after finish: %d -> %d", final, got)
	}
}

func TestErrorsAreCounted(t *testing.T) {
	var calls atomic.Int32
	w := New(func(context.Context) error {
		if calls.Add(1)%2 == 0 {
			return errors.New("push failed")
		}
		return nil
	}, 0, nil)

	w.Start(context.Background())
	for calls.Load() < 10 {
		time.Sleep(time.Millisecond)
	}
	w.RequestStop()
	waitFinished(t, w)

	success, failed := w.SuccessCount(), w.ErrorCount()
	if success == 0 || failed == 0 {
		t.Errorf("counters = %d/%d, want both non-zero", success, failed)
	}
	if uint32(calls.Load()) != success+failed {
		t.Errorf("calls = %d, counted %d", calls.Load(), success+failed)
	}
}

func TestConcurrentReadsDuringRun(t *testing.T) {
	w := New(func(context.Context) error { return nil }, 0, nil)
	w.Start(context.Background())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var last uint32
			for range 1000 {
				got := w.SuccessCount()
				if got < last {
					t.Errorf("success count went backwards: %d -> %d", last, got)
					return
				}
				last = got
				_ = w.ErrorCount()
			}
		}()
	}
	wg.Wait()

	w.RequestStop()
	waitFinished(t, w)

	if w.ErrorCount() != 0 {
		t.Errorf("errors = %d, want 0", w.ErrorCount())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	var active atomic.Int32
	var overlap atomic.Bool
	w := New(func(context.Context) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	}, 0, nil)

	ctx := context.Background()
	w.Start(ctx)
	w.Start(ctx)
	w.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	w.RequestStop()
	w.RequestStop()
	waitFinished(t, w)

	if overlap.Load() {
		t.Error("more than one worker goroutine ran")
	}
}

func TestSetFlag(t *testing.T) {
	var b atomic.Bool

	setFlag(&b, true)
	if !b.Load() {
		t.Error("flag not set")
	}
	setFlag(&b, true)
	if !b.Load() {
		t.Error("flag cleared by repeated set")
	}
	setFlag(&b, false)
	if b.Load() {
		t.Error("flag not cleared")
	}
}
