package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weiihann/tangobench/device"
	"github.com/weiihann/tangobench/payload"
)

var errFake = errors.New("fake failure")

// fakeProxy records calls and fails every call whose ordinal is in failOn.
type fakeProxy struct {
	mu sync.Mutex

	name     string
	calls    int
	failOn   map[int]bool
	failAll  bool
	commands []string
	written  []payload.AttributePayload
	blobs    []payload.PipeBlob
	props    map[string]string
	subs     map[int]device.EventCallback
	nextSub  int
	unsubs   []int
	timeout  time.Duration
	closed   bool

	// events delivered synchronously by StartEvents; a nil error counts
	// as a good event.
	events []error
}

func newFakeProxy(name string) *fakeProxy {
	return &fakeProxy{
		name:   name,
		failOn: make(map[int]bool),
		props:  make(map[string]string),
		subs:   make(map[int]device.EventCallback),
	}
}

func (f *fakeProxy) dialer() device.DialFunc {
	return func(_ context.Context, name string) (device.Proxy, error) {
		f.name = name
		return f, nil
	}
}

// fail must be called with f.mu held.
func (f *fakeProxy) fail() error {
	f.calls++
	if f.failAll || f.failOn[f.calls] {
		return errFake
	}

	return nil
}

func (f *fakeProxy) Name() string { return f.name }

func (f *fakeProxy) CommandInout(_ context.Context, cmd string) error {
	f.mu.Lock()
	if err := f.fail(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.commands = append(f.commands, cmd)

	var cbs []device.EventCallback
	if cmd == "StartEvents" {
		for _, cb := range f.subs {
			cbs = append(cbs, cb)
		}
	}
	events := f.events
	f.mu.Unlock()

	for _, cb := range cbs {
		for _, evErr := range events {
			cb(device.EventData{Device: f.name, Err: evErr})
		}
	}

	return nil
}

func (f *fakeProxy) ReadAttribute(_ context.Context, attr string) (payload.AttributePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return payload.AttributePayload{}, err
	}

	return payload.AttributePayload{Name: attr, Values: []float64{1}}, nil
}

func (f *fakeProxy) WriteAttribute(_ context.Context, attr payload.AttributePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}
	f.written = append(f.written, attr)

	return nil
}

func (f *fakeProxy) ReadPipe(_ context.Context, pipe string) (payload.PipeBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return payload.PipeBlob{}, err
	}

	return payload.BuildPipe(pipe, 1), nil
}

func (f *fakeProxy) WritePipe(_ context.Context, blob payload.PipeBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}
	f.blobs = append(f.blobs, blob)

	return nil
}

func (f *fakeProxy) SubscribeEvent(_ context.Context, _ string, cb device.EventCallback) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return 0, err
	}
	f.nextSub++
	f.subs[f.nextSub] = cb

	return f.nextSub, nil
}

func (f *fakeProxy) UnsubscribeEvent(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unsubs = append(f.unsubs, id)
	delete(f.subs, id)

	// Cleanup failures must not surface; fail every other unsubscribe.
	if id%2 == 0 {
		return errFake
	}

	return nil
}

func (f *fakeProxy) PutProperty(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(); err != nil {
		return err
	}
	f.props[name] = value

	return nil
}

func (f *fakeProxy) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeout = d
}

func (f *fakeProxy) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now
	c.now = c.now.Add(c.step)

	return t
}
