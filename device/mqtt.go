package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/xid"

	"github.com/weiihann/tangobench/bench"
	"github.com/weiihann/tangobench/payload"
)

// Config holds the broker connection settings shared by all proxies.
type Config struct {
	BrokerURL      string
	Username       string
	Password       string
	ClientID       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type subscription struct {
	attribute string
	cb        EventCallback
}

// MQTTProxy is a Proxy that talks to a device through an MQTT broker.
type MQTTProxy struct {
	name        string
	clientID    string
	replyTopic  string
	eventPrefix string
	logger      *slog.Logger

	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc

	timeout atomic.Int64
	nextID  atomic.Uint64
	up      atomic.Bool

	mu       sync.Mutex
	pending  map[uint64]chan Reply
	subs     map[int]subscription
	attrRefs map[string]int

	// serializes SubscribeEvent and UnsubscribeEvent so the broker
	// subscription for an attribute tracks attrRefs.
	subMu sync.Mutex
}

// Dialer returns a DialFunc that opens MQTT proxies with cfg.
func Dialer(cfg Config) DialFunc {
	return func(ctx context.Context, name string) (Proxy, error) {
		return Dial(ctx, cfg, name)
	}
}

// Dial connects to the broker and checks that the named device answers.
// Any failure is returned as a *bench.ConnectionError.
func Dial(ctx context.Context, cfg Config, name string) (*MQTTProxy, error) {
	if err := ValidateName(name); err != nil {
		return nil, &bench.ConnectionError{Target: name, Err: err}
	}

	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, &bench.ConnectionError{
			Target: name,
			Err:    fmt.Errorf("parse broker url %q: %w", cfg.BrokerURL, err),
		}
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tangobench-" + xid.New().String()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &MQTTProxy{
		name:        name,
		clientID:    clientID,
		replyTopic:  ReplyTopic(name, clientID),
		eventPrefix: EventTopic(name, ""),
		logger:      logger.With(slog.String("device", name)),
		pending:     make(map[uint64]chan Reply),
		subs:        make(map[int]subscription),
		attrRefs:    make(map[string]int),
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p.SetTimeout(timeout)

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		ConnectUsername:               cfg.Username,
		ConnectPassword:               []byte(cfg.Password),
		KeepAlive:                     20,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		OnConnectionUp:                p.onConnectionUp,
		OnConnectError: func(err error) {
			p.logger.Debug("connect attempt failed", slog.String("error", err.Error()))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				p.onPublish,
			},
			OnClientError: func(err error) {
				p.logger.Debug("client error", slog.String("error", err.Error()))
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				p.logger.Debug("server requested disconnect",
					slog.Int("reason_code", int(d.ReasonCode)))
			},
		},
	}

	// The connection outlives Dial's ctx; Close cancels it.
	connCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	cm, err := autopaho.NewConnection(connCtx, cliCfg)
	if err != nil {
		cancel()
		return nil, &bench.ConnectionError{Target: name, Err: err}
	}
	p.cm = cm

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, connectTimeout)
	defer dialCancel()

	if err := p.connect(dialCtx); err != nil {
		cancel()
		return nil, &bench.ConnectionError{Target: name, Err: err}
	}

	return p, nil
}

func (p *MQTTProxy) connect(ctx context.Context) error {
	if err := p.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("await broker connection: %w", err)
	}

	if _, err := p.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.replyTopic, QoS: 1}},
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.replyTopic, err)
	}
	p.up.Store(true)

	if _, err := p.call(ctx, Request{Op: OpPing}); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}

// onConnectionUp restores the subscriptions after a reconnect. The first
// connection subscribes synchronously in connect.
func (p *MQTTProxy) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	if !p.up.Load() {
		return
	}

	topics := []string{p.replyTopic}
	p.mu.Lock()
	for attr := range p.attrRefs {
		topics = append(topics, EventTopic(p.name, attr))
	}
	p.mu.Unlock()

	opts := make([]paho.SubscribeOptions, 0, len(topics))
	for _, t := range topics {
		opts = append(opts, paho.SubscribeOptions{Topic: t, QoS: 1})
	}

	if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
		Subscriptions: opts,
	}); err != nil {
		p.logger.Warn("resubscribe after reconnect failed",
			slog.String("error", err.Error()))
	}
}

func (p *MQTTProxy) onPublish(pr paho.PublishReceived) (bool, error) {
	topic := pr.Packet.Topic

	switch {
	case topic == p.replyTopic:
		var rep Reply
		if err := json.Unmarshal(pr.Packet.Payload, &rep); err != nil {
			p.logger.Debug("malformed reply", slog.String("error", err.Error()))
			return true, nil
		}

		p.mu.Lock()
		ch := p.pending[rep.ID]
		p.mu.Unlock()

		if ch != nil {
			select {
			case ch <- rep:
			default:
			}
		}

	case strings.HasPrefix(topic, p.eventPrefix):
		var ev Event
		if err := json.Unmarshal(pr.Packet.Payload, &ev); err != nil {
			p.logger.Debug("malformed event", slog.String("error", err.Error()))
			return true, nil
		}
		p.dispatch(ev)

	default:
		return false, nil
	}

	return true, nil
}

func (p *MQTTProxy) dispatch(ev Event) {
	data := EventData{Device: ev.Device, Attribute: ev.Attribute}
	if ev.Value != nil {
		data.Value = *ev.Value
	}
	if ev.Error != "" {
		data.Err = &Error{Device: p.name, Op: "event", Reason: ev.Error}
	}

	p.mu.Lock()
	var cbs []EventCallback
	for _, s := range p.subs {
		if s.attribute == ev.Attribute {
			cbs = append(cbs, s.cb)
		}
	}
	p.mu.Unlock()

	for _, cb := range cbs {
		cb(data)
	}
}

func (p *MQTTProxy) call(ctx context.Context, req Request) (Reply, error) {
	req.ID = p.nextID.Add(1)
	req.ReplyTo = p.replyTopic

	data, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode %s request: %w", req.Op, err)
	}

	ch := make(chan Reply, 1)
	p.mu.Lock()
	p.pending[req.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	if _, err := p.cm.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   RequestTopic(p.name),
		Payload: data,
	}); err != nil {
		return Reply{}, fmt.Errorf("publish %s request: %w", req.Op, err)
	}

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return rep, &Error{Device: p.name, Op: req.Op, Reason: rep.Error}
		}
		return rep, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reply{}, fmt.Errorf("%s %s: %w", p.name, req.Op, ErrTimeout)
		}
		return Reply{}, ctx.Err()
	}
}

// Name returns the device name.
func (p *MQTTProxy) Name() string { return p.name }

// Timeout returns the per-call timeout.
func (p *MQTTProxy) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

// SetTimeout changes the per-call timeout.
func (p *MQTTProxy) SetTimeout(d time.Duration) {
	p.timeout.Store(int64(d))
}

func (p *MQTTProxy) CommandInout(ctx context.Context, command string) error {
	_, err := p.call(ctx, Request{Op: OpCommand, Name: command})
	return err
}

func (p *MQTTProxy) ReadAttribute(
	ctx context.Context, attribute string,
) (payload.AttributePayload, error) {
	rep, err := p.call(ctx, Request{Op: OpReadAttribute, Name: attribute})
	if err != nil {
		return payload.AttributePayload{}, err
	}
	if rep.Attribute == nil {
		return payload.AttributePayload{}, &Error{
			Device: p.name, Op: OpReadAttribute, Reason: "empty reply",
		}
	}

	return *rep.Attribute, nil
}

func (p *MQTTProxy) WriteAttribute(ctx context.Context, attr payload.AttributePayload) error {
	_, err := p.call(ctx, Request{
		Op:        OpWriteAttribute,
		Name:      attr.Name,
		Attribute: &attr,
	})
	return err
}

func (p *MQTTProxy) ReadPipe(ctx context.Context, pipe string) (payload.PipeBlob, error) {
	rep, err := p.call(ctx, Request{Op: OpReadPipe, Name: pipe})
	if err != nil {
		return payload.PipeBlob{}, err
	}
	if rep.Pipe == nil {
		return payload.PipeBlob{}, &Error{
			Device: p.name, Op: OpReadPipe, Reason: "empty reply",
		}
	}

	return *rep.Pipe, nil
}

func (p *MQTTProxy) WritePipe(ctx context.Context, blob payload.PipeBlob) error {
	_, err := p.call(ctx, Request{Op: OpWritePipe, Name: blob.Name, Pipe: &blob})
	return err
}

func (p *MQTTProxy) PutProperty(ctx context.Context, name, value string) error {
	_, err := p.call(ctx, Request{Op: OpPutProperty, Name: name, Value: value})
	return err
}

// SubscribeEvent registers cb for change events of attribute and returns
// the subscription id.
func (p *MQTTProxy) SubscribeEvent(
	ctx context.Context, attribute string, cb EventCallback,
) (int, error) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.mu.Lock()
	refs := p.attrRefs[attribute]
	p.mu.Unlock()

	if refs == 0 {
		topic := EventTopic(p.name, attribute)
		if _, err := p.cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		}); err != nil {
			return 0, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	rep, err := p.call(ctx, Request{Op: OpSubscribe, Name: attribute})
	if err != nil {
		if refs == 0 {
			p.unsubscribeTopic(ctx, attribute)
		}
		return 0, err
	}

	p.mu.Lock()
	p.subs[rep.Subscription] = subscription{attribute: attribute, cb: cb}
	p.attrRefs[attribute]++
	p.mu.Unlock()

	return rep.Subscription, nil
}

// UnsubscribeEvent cancels a subscription made with SubscribeEvent.
func (p *MQTTProxy) UnsubscribeEvent(ctx context.Context, id int) error {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.mu.Lock()
	sub, ok := p.subs[id]
	p.mu.Unlock()

	if !ok {
		return &Error{
			Device: p.name,
			Op:     OpUnsubscribe,
			Reason: fmt.Sprintf("subscription %d not found", id),
		}
	}

	_, err := p.call(ctx, Request{Op: OpUnsubscribe, Subscription: id})

	p.mu.Lock()
	delete(p.subs, id)
	p.attrRefs[sub.attribute]--
	last := p.attrRefs[sub.attribute] <= 0
	if last {
		delete(p.attrRefs, sub.attribute)
	}
	p.mu.Unlock()

	if last {
		p.unsubscribeTopic(ctx, sub.attribute)
	}

	return err
}

func (p *MQTTProxy) unsubscribeTopic(ctx context.Context, attribute string) {
	topic := EventTopic(p.name, attribute)
	if _, err := p.cm.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	}); err != nil {
		p.logger.Debug("unsubscribe topic failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}
}

// Close disconnects from the broker.
func (p *MQTTProxy) Close(ctx context.Context) error {
	defer p.cancel()

	if err := p.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	return nil
}
