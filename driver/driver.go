// Package driver runs one benchmark against one device: it reads options
// from the environment, connects, loops the operation for the requested
// period and prints "<successes> <elapsed> <errors>".
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/weiihann/tangobench/bench"
	"github.com/weiihann/tangobench/device"
	"github.com/weiihann/tangobench/payload"
)

// Kind selects the benchmarked operation.
type Kind string

const (
	KindCommand   Kind = "command"
	KindRead      Kind = "read"
	KindWrite     Kind = "write"
	KindPipeWrite Kind = "pipewrite"
	KindPipeRead  Kind = "piperead"
	KindEvent     Kind = "event"
	KindPushEvent Kind = "pushevent"
)

// Kinds lists every supported benchmark.
var Kinds = []Kind{
	KindCommand,
	KindRead,
	KindWrite,
	KindPipeWrite,
	KindPipeRead,
	KindEvent,
	KindPushEvent,
}

// ParseKind validates a benchmark name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", &bench.ConfigurationError{
		Option: "benchmark",
		Err:    fmt.Errorf("unknown benchmark %q", s),
	}
}

// Deps are the collaborators of a run. Zero values select the MQTT device
// client, the system clock, stdout and a discarding logger.
type Deps struct {
	Dial   device.DialFunc
	Clock  bench.Clock
	Stdout io.Writer
	Logger *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = bench.SystemClock()
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	return d
}

func (d Deps) dial(ctx context.Context, conn Connection, name string) (device.Proxy, error) {
	dial := d.Dial
	if dial == nil {
		dial = device.Dialer(device.Config{
			BrokerURL: conn.Broker,
			Username:  conn.Username,
			Password:  conn.Password,
			Timeout:   conn.CallTimeout(),
			Logger:    d.Logger,
		})
	}

	proxy, err := dial(ctx, name)
	if err != nil {
		var connErr *bench.ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &bench.ConnectionError{Target: name, Err: err}
	}
	if conn.Timeout > 0 {
		proxy.SetTimeout(conn.CallTimeout())
	}

	return proxy, nil
}

// Run executes one benchmark of the given kind, writes the result line to
// Deps.Stdout and returns it. Configuration and connection failures are
// returned before any operation is attempted.
func Run(ctx context.Context, kind Kind, deps Deps) (bench.Result, error) {
	deps = deps.withDefaults()

	switch kind {
	case KindCommand:
		var opts CommandOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &CommandOp{Proxy: p, Command: opts.Command}
		})

	case KindRead:
		var opts ReadOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &ReadOp{Proxy: p, Attribute: opts.Attribute}
		})

	case KindWrite:
		var opts WriteOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		value, err := payload.BuildAttribute(opts.Attribute, opts.Shape, opts.Value)
		if err != nil {
			return bench.Result{}, err
		}
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &WriteOp{Proxy: p, Value: value}
		})

	case KindPipeWrite:
		var opts PipeWriteOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		blob := payload.BuildPipe(opts.Pipe, opts.Size)
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &PipeWriteOp{Proxy: p, Blob: blob}
		})

	case KindPipeRead:
		var opts PipeReadOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &PipeReadOp{Proxy: p, Pipe: opts.Pipe}
		})

	case KindEvent:
		var opts EventOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		return deps.loop(ctx, opts.Connection, opts.Target, func(p device.Proxy) bench.Operation {
			return &SubscribeOp{Proxy: p, Attribute: opts.Attribute, Logger: deps.Logger}
		})

	case KindPushEvent:
		var opts PushEventOptions
		if err := LoadOptions(&opts); err != nil {
			return bench.Result{}, err
		}
		return deps.pushEvents(ctx, opts)
	}

	_, err := ParseKind(string(kind))
	return bench.Result{}, err
}

func (d Deps) loop(
	ctx context.Context,
	conn Connection,
	target Target,
	build func(device.Proxy) bench.Operation,
) (bench.Result, error) {
	proxy, err := d.dial(ctx, conn, target.Device)
	if err != nil {
		return bench.Result{}, err
	}
	defer d.close(proxy)

	op := build(proxy)
	res := bench.NewLoop(d.Clock).Run(ctx, op, bench.Seconds(target.Period))

	if c, ok := op.(Cleaner); ok {
		c.Cleanup(ctx)
	}

	d.Logger.Debug("benchmark finished",
		slog.String("device", target.Device),
		slog.Uint64("success", res.SuccessCount),
		slog.Uint64("errors", res.ErrorCount),
		slog.Float64("elapsed", res.ElapsedSeconds),
	)

	return res, d.print(res)
}

// pushEvents asks the device to push change events for the period and
// counts what arrives. Elapsed time covers StartEvents through StopEvents.
func (d Deps) pushEvents(ctx context.Context, opts PushEventOptions) (bench.Result, error) {
	proxy, err := d.dial(ctx, opts.Connection, opts.Device)
	if err != nil {
		return bench.Result{}, err
	}
	defer d.close(proxy)

	proxy.SetTimeout(2 * time.Second)

	if err := setEventProperties(ctx, proxy, opts); err != nil {
		_ = d.print(bench.Result{})
		return bench.Result{}, &bench.ConnectionError{Target: opts.Device, Err: err}
	}

	var received, failed atomic.Uint64
	id, err := proxy.SubscribeEvent(ctx, opts.Attribute, func(ev device.EventData) {
		if ev.Err != nil {
			failed.Add(1)
			return
		}
		received.Add(1)
	})
	if err != nil {
		_ = d.print(bench.Result{})
		return bench.Result{}, &bench.ConnectionError{
			Target: opts.Device,
			Err:    fmt.Errorf("subscribe %s: %w", opts.Attribute, err),
		}
	}

	settle := time.Duration(opts.Settle) * time.Millisecond
	sleep(ctx, settle)

	var cmdErrors uint64
	start := d.Clock.Now()
	if err := proxy.CommandInout(ctx, "StartEvents"); err != nil {
		cmdErrors++
		d.Logger.Debug("start events failed", slog.String("error", err.Error()))
	} else {
		sleep(ctx, bench.Seconds(opts.Period))
		if err := proxy.CommandInout(ctx, "StopEvents"); err != nil {
			cmdErrors++
			d.Logger.Debug("stop events failed", slog.String("error", err.Error()))
		}
	}
	end := d.Clock.Now()

	sleep(ctx, settle)

	if err := proxy.UnsubscribeEvent(ctx, id); err != nil {
		d.Logger.Debug("unsubscribe failed",
			slog.Int("id", id),
			slog.String("error", err.Error()),
		)
	}

	res := bench.Result{
		SuccessCount:   received.Load(),
		ErrorCount:     failed.Load() + cmdErrors,
		ElapsedSeconds: end.Sub(start).Seconds(),
	}

	return res, d.print(res)
}

func setEventProperties(ctx context.Context, proxy device.Proxy, opts PushEventOptions) error {
	if err := proxy.PutProperty(ctx, "EventAttribute", opts.Attribute); err != nil {
		return fmt.Errorf("set EventAttribute: %w", err)
	}

	sleepMs := strconv.FormatFloat(opts.Sleep, 'f', -1, 64)
	if err := proxy.PutProperty(ctx, "EventSleepPeriod", sleepMs); err != nil {
		return fmt.Errorf("set EventSleepPeriod: %w", err)
	}

	return nil
}

func (d Deps) print(res bench.Result) error {
	if err := bench.WriteResult(d.Stdout, res); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	return nil
}

func (d Deps) close(proxy device.Proxy) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := proxy.Close(ctx); err != nil {
		d.Logger.Debug("close proxy", slog.String("error", err.Error()))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
