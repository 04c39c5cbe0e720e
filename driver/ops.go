package driver

import (
	"context"
	"log/slog"

	"github.com/weiihann/tangobench/bench"
	"github.com/weiihann/tangobench/device"
	"github.com/weiihann/tangobench/payload"
)

// Cleaner is implemented by operations that hold remote resources after the
// loop ends.
type Cleaner interface {
	Cleanup(ctx context.Context)
}

// CommandOp invokes a command with no argument.
type CommandOp struct {
	Proxy   device.Proxy
	Command string
}

func (o *CommandOp) Attempt(ctx context.Context) error {
	if err := o.Proxy.CommandInout(ctx, o.Command); err != nil {
		return &bench.OperationError{Op: "command " + o.Command, Err: err}
	}

	return nil
}

// ReadOp reads an attribute and discards the value.
type ReadOp struct {
	Proxy     device.Proxy
	Attribute string
}

func (o *ReadOp) Attempt(ctx context.Context) error {
	if _, err := o.Proxy.ReadAttribute(ctx, o.Attribute); err != nil {
		return &bench.OperationError{Op: "read " + o.Attribute, Err: err}
	}

	return nil
}

// WriteOp writes the same prepared value on every attempt.
type WriteOp struct {
	Proxy device.Proxy
	Value payload.AttributePayload
}

func (o *WriteOp) Attempt(ctx context.Context) error {
	if err := o.Proxy.WriteAttribute(ctx, o.Value); err != nil {
		return &bench.OperationError{Op: "write " + o.Value.Name, Err: err}
	}

	return nil
}

// PipeWriteOp writes the same prepared blob on every attempt.
type PipeWriteOp struct {
	Proxy device.Proxy
	Blob  payload.PipeBlob
}

func (o *PipeWriteOp) Attempt(ctx context.Context) error {
	if err := o.Proxy.WritePipe(ctx, o.Blob); err != nil {
		return &bench.OperationError{Op: "write pipe " + o.Blob.Name, Err: err}
	}

	return nil
}

// PipeReadOp reads a pipe and discards the blob.
type PipeReadOp struct {
	Proxy device.Proxy
	Pipe  string
}

func (o *PipeReadOp) Attempt(ctx context.Context) error {
	if _, err := o.Proxy.ReadPipe(ctx, o.Pipe); err != nil {
		return &bench.OperationError{Op: "read pipe " + o.Pipe, Err: err}
	}

	return nil
}

// SubscribeOp subscribes to change events once per attempt and keeps every
// subscription until Cleanup.
type SubscribeOp struct {
	Proxy     device.Proxy
	Attribute string
	Logger    *slog.Logger

	ids []int
}

func (o *SubscribeOp) Attempt(ctx context.Context) error {
	id, err := o.Proxy.SubscribeEvent(ctx, o.Attribute, func(device.EventData) {})
	if err != nil {
		return &bench.OperationError{Op: "subscribe " + o.Attribute, Err: err}
	}
	o.ids = append(o.ids, id)

	return nil
}

// Subscriptions returns the number of subscriptions still held.
func (o *SubscribeOp) Subscriptions() int {
	return len(o.ids)
}

// Cleanup unsubscribes every held subscription. Failures are logged at
// debug level and otherwise ignored.
func (o *SubscribeOp) Cleanup(ctx context.Context) {
	for _, id := range o.ids {
		if err := o.Proxy.UnsubscribeEvent(ctx, id); err != nil && o.Logger != nil {
			o.Logger.Debug("unsubscribe failed",
				slog.Int("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	o.ids = nil
}
