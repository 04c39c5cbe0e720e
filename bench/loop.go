package bench

import (
	"context"
	"time"
)

// Operation performs exactly one remote call. A non-nil error means the
// attempt failed; it is counted and the loop moves on.
type Operation interface {
	Attempt(ctx context.Context) error
}

// OperationFunc adapts a plain function to Operation.
type OperationFunc func(ctx context.Context) error

// Attempt calls f.
func (f OperationFunc) Attempt(ctx context.Context) error {
	return f(ctx)
}

// Clock is the time source used by Loop.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock. time.Now carries a monotonic reading,
// so elapsed times are not affected by clock adjustments.
func SystemClock() Clock {
	return systemClock{}
}

// Loop runs an Operation repeatedly until a duration budget is spent.
type Loop struct {
	clock Clock
}

// NewLoop creates a Loop. A nil clock selects SystemClock.
func NewLoop(clock Clock) *Loop {
	if clock == nil {
		clock = SystemClock()
	}

	return &Loop{clock: clock}
}

// Run calls op.Attempt until at least period has elapsed and returns the
// accumulated counts. The body always runs at least once, so a period of
// zero or less results in exactly one attempt.
func (l *Loop) Run(ctx context.Context, op Operation, period time.Duration) Result {
	var success, failed uint64

	start := l.clock.Now()
	var end time.Time

	for {
		if err := op.Attempt(ctx); err != nil {
			failed++
		} else {
			success++
		}

		end = l.clock.Now()
		if end.Sub(start) >= period {
			break
		}
	}

	return Result{
		SuccessCount:   success,
		ErrorCount:     failed,
		ElapsedSeconds: end.Sub(start).Seconds(),
	}
}

// Run is a convenience wrapper around NewLoop(nil).Run.
func Run(ctx context.Context, op Operation, period time.Duration) Result {
	return NewLoop(nil).Run(ctx, op, period)
}

// Seconds converts a period given in (possibly fractional) seconds, as the
// drivers receive it, into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
