// Package device is the client side of the device-control middleware: a
// Proxy is a handle to one remote device exposing commands, attributes,
// pipes and change events.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiihann/tangobench/payload"
)

// DefaultTimeout bounds each remote call unless changed with SetTimeout.
const DefaultTimeout = 3 * time.Second

// ErrTimeout is returned when a call gets no reply within the timeout.
var ErrTimeout = errors.New("request timed out")

// Error is a failure reported by the remote device.
type Error struct {
	Device string
	Op     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %s: %s: %s", e.Device, e.Op, e.Reason)
}

// EventData is delivered to an EventCallback for every change event.
type EventData struct {
	Device    string
	Attribute string
	Value     payload.AttributePayload
	Err       error
}

// EventCallback receives change events for a subscription. It runs on the
// client's receive goroutine and must not block.
type EventCallback func(EventData)

// Proxy is a client-side handle to a remote device.
type Proxy interface {
	Name() string
	CommandInout(ctx context.Context, command string) error
	ReadAttribute(ctx context.Context, attribute string) (payload.AttributePayload, error)
	WriteAttribute(ctx context.Context, attr payload.AttributePayload) error
	ReadPipe(ctx context.Context, pipe string) (payload.PipeBlob, error)
	WritePipe(ctx context.Context, blob payload.PipeBlob) error
	SubscribeEvent(ctx context.Context, attribute string, cb EventCallback) (int, error)
	UnsubscribeEvent(ctx context.Context, id int) error
	PutProperty(ctx context.Context, name, value string) error
	SetTimeout(d time.Duration)
	Close(ctx context.Context) error
}

// DialFunc opens a Proxy to the named device.
type DialFunc func(ctx context.Context, name string) (Proxy, error)
