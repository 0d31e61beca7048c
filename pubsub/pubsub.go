// Package pubsub 提供基于通道名的异步发布订阅。
//
// 逻辑通道 X 映射到底层 topic "service:X"。同一通道的多个处理器共享一个底层订阅：
// 第一个处理器加入时建立订阅，最后一个离开时释放。
//
//	ps := pubsub.New(pubsub.NewMemoryTransport(), pubsub.WithLogger(logger))
//	unsubscribe, _ := ps.Subscribe(ctx, "orders", func(ctx context.Context, msg *pubsub.Message) error {
//		return handle(msg)
//	})
//	defer unsubscribe()
//
//	msg, _ := pubsub.NewMessage("order.created", order)
//	res := ps.PublishWithAck(ctx, "orders", msg, 3*time.Second)
//
// PublishWithAck 在发布前订阅 "X:ack:<messageId>"，等待类型为 ack、
// payload 为 {"messageId": ...} 的确认消息。订阅方通过 Ack 或 WithAutoAck 回复。
// 投递是尽力而为的，不做持久化。
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/idgen"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/trace"
)

// Handler 消息处理器，返回错误只会被记录
type Handler func(ctx context.Context, msg *Message) error

// AckResult PublishWithAck 的结果
type AckResult struct {
	Success      bool
	Acknowledged bool
	MessageID    string
	Error        error
	Duration     time.Duration
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// channelConn 引用计数的通道订阅
type channelConn struct {
	name     string
	sub      Subscription
	handlers []handlerEntry
}

// PubSub 异步发布订阅
type PubSub struct {
	transport Transport
	codec     Codec
	logger    clog.Logger
	sender    string
	autoAck   bool
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	owned     bool
	tracer    oteltrace.Tracer
	system    string

	mu       sync.Mutex
	channels map[string]*channelConn
	nextID   uint64
	closed   bool

	published metrics.Counter
	received  metrics.Counter
	failures  metrics.Counter
	acks      metrics.Counter
	ackWait   metrics.Histogram
}

// New 在给定传输层上创建 PubSub，Close 不会关闭该传输层
func New(t Transport, opts ...Option) *PubSub {
	o := &options{
		logger:     clog.Discard(),
		meter:      metrics.Discard(),
		codec:      JSONCodec(),
		ackTimeout: 5 * time.Second,
		now:        time.Now,
		newID:      idgen.NewUUIDV4,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &PubSub{
		transport: t,
		codec:     o.codec,
		logger:    o.logger,
		sender:    o.sender,
		autoAck:   o.autoAck,
		timeout:   o.ackTimeout,
		now:       o.now,
		newID:     o.newID,
		owned:     o.owned,
		tracer:    o.tracer,
		system:    systemOf(t),
		channels:  make(map[string]*channelConn),
		published: metrics.MustCounter(o.meter, "pubsub_published_total", "发布的消息数"),
		received:  metrics.MustCounter(o.meter, "pubsub_received_total", "收到的消息数"),
		failures:  metrics.MustCounter(o.meter, "pubsub_handler_failures_total", "处理器失败次数"),
		acks:      metrics.MustCounter(o.meter, "pubsub_acks_total", "PublishWithAck 结果"),
		ackWait: metrics.MustHistogram(o.meter, "pubsub_ack_wait_seconds", "等待确认耗时",
			metrics.WithUnit("s")),
	}
}

// Open 按配置创建传输层与 PubSub，Close 时一并关闭传输层
func Open(cfg *Config, opts ...Option) (*PubSub, error) {
	t, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	ps, err := NewWithConfig(t, cfg, append([]Option{withOwnedTransport()}, opts...)...)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return ps, nil
}

// NewWithConfig 在给定传输层上按配置创建 PubSub，忽略 cfg.Transport
func NewWithConfig(t Transport, cfg *Config, opts ...Option) (*PubSub, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithCodec(codec),
		WithSender(cfg.Sender),
		WithAutoAck(cfg.AutoAck),
		WithAckTimeout(cfg.AckTimeout),
	}
	return New(t, append(base, opts...)...), nil
}

// Subscribe 为通道注册处理器，返回的函数用于取消，可重复调用
//
// 建立底层订阅期间不持锁，其他通道的收发不受影响。
func (p *PubSub) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if conn, ok := p.channels[channel]; ok {
		id := p.addHandler(conn, h)
		p.mu.Unlock()
		return p.unsubscriber(conn, id), nil
	}
	p.mu.Unlock()

	opened, err := p.open(ctx, channel)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeConn(opened)
		return nil, ErrClosed
	}
	// 并发的订阅者可能已经建好通道，此时复用它并关闭自己的订阅
	conn, raced := p.channels[channel]
	if !raced {
		conn = opened
		p.channels[channel] = conn
		p.logger.Debug("channel opened", clog.String("channel", channel))
	}
	id := p.addHandler(conn, h)
	p.mu.Unlock()

	if raced {
		p.closeConn(opened)
	}
	return p.unsubscriber(conn, id), nil
}

// addHandler 调用方持有 p.mu
func (p *PubSub) addHandler(conn *channelConn, h Handler) uint64 {
	p.nextID++
	id := p.nextID
	// 写时复制，dispatch 读取快照时不持锁
	handlers := make([]handlerEntry, len(conn.handlers), len(conn.handlers)+1)
	copy(handlers, conn.handlers)
	conn.handlers = append(handlers, handlerEntry{id: id, fn: h})
	return id
}

func (p *PubSub) unsubscriber(conn *channelConn, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() { p.release(conn, id) })
	}
}

// open 建立一个尚未登记的通道订阅
func (p *PubSub) open(ctx context.Context, channel string) (*channelConn, error) {
	conn := &channelConn{name: channel}
	sub, err := p.transport.Subscribe(ctx, Topic(channel), func(data []byte) {
		p.dispatch(conn, data)
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", channel, err)
	}
	conn.sub = sub
	return conn, nil
}

func (p *PubSub) closeConn(conn *channelConn) {
	if err := conn.sub.Unsubscribe(); err != nil {
		p.logger.Warn("close channel failed", clog.String("channel", conn.name), clog.Error(err))
	}
}

func (p *PubSub) release(conn *channelConn, id uint64) {
	p.mu.Lock()
	handlers := make([]handlerEntry, 0, len(conn.handlers))
	for _, e := range conn.handlers {
		if e.id != id {
			handlers = append(handlers, e)
		}
	}
	conn.handlers = handlers

	var sub Subscription
	if len(handlers) == 0 && p.channels[conn.name] == conn {
		delete(p.channels, conn.name)
		sub = conn.sub
	}
	p.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn("close channel failed", clog.String("channel", conn.name), clog.Error(err))
			return
		}
		p.logger.Debug("channel closed", clog.String("channel", conn.name))
	}
}

func (p *PubSub) dispatch(conn *channelConn, data []byte) {
	msg := &Message{}
	if err := p.codec.Unmarshal(data, msg); err != nil {
		p.logger.Warn("drop undecodable message",
			clog.String("channel", conn.name), clog.String("codec", p.codec.Name()), clog.Error(err))
		return
	}

	p.mu.Lock()
	handlers := conn.handlers
	p.mu.Unlock()

	ctx, span := trace.StartConsumerSpanFromHeaders(context.Background(), p.tracer,
		trace.SpanNameProcess(conn.name), msg.Headers, p.spanMeta(conn.name, msg.ID, trace.MessagingOperationProcess))
	defer span.End()
	p.received.Inc(ctx, metrics.L(metrics.LabelChannel, conn.name))

	ok := true
	for _, e := range handlers {
		if err := p.invoke(ctx, e.fn, msg); err != nil {
			ok = false
			trace.MarkSpanError(span, err)
			p.failures.Inc(ctx, metrics.L(metrics.LabelChannel, conn.name))
			p.logger.Warn("handler failed",
				clog.String("channel", conn.name),
				clog.String("message_id", msg.ID),
				clog.String("type", msg.Type),
				clog.Error(err))
		}
	}

	if ok && p.autoAck && msg.ReplyTo != "" && len(handlers) > 0 {
		if err := p.Ack(ctx, msg); err != nil {
			p.logger.Warn("auto ack failed", clog.String("message_id", msg.ID), clog.Error(err))
		}
	}
}

func (p *PubSub) invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pubsub: handler panic: %v", r)
		}
	}()
	// 每个处理器拿到自己的副本
	cp := *msg
	cp.Headers = maps.Clone(msg.Headers)
	return h(ctx, &cp)
}

// Publish 发布消息，不等待处理。ID/Timestamp/Sender 为空时自动填充
func (p *PubSub) Publish(ctx context.Context, channel string, msg *Message) error {
	p.prepare(msg)
	if err := p.send(ctx, channel, msg); err != nil {
		p.published.Inc(ctx, metrics.L(metrics.LabelChannel, channel), metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		return err
	}
	p.published.Inc(ctx, metrics.L(metrics.LabelChannel, channel), metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
	return nil
}

func (p *PubSub) prepare(msg *Message) {
	if msg.ID == "" {
		msg.ID = p.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = p.now()
	}
	if msg.Sender == "" {
		msg.Sender = p.sender
	}
}

func (p *PubSub) send(ctx context.Context, channel string, msg *Message) (err error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ctx, span, headers := trace.StartProducerSpan(ctx, p.tracer,
		trace.SpanNamePublish(channel), p.spanMeta(channel, msg.ID, trace.MessagingOperationPublish))
	defer func() {
		trace.MarkSpanError(span, err)
		span.End()
	}()
	if msg.Headers == nil {
		msg.Headers = make(map[string]string, len(headers))
	}
	maps.Copy(msg.Headers, headers)

	data, err := p.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pubsub: encode message %s: %w", msg.ID, err)
	}
	if err := p.transport.Publish(ctx, Topic(channel), data); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", channel, err)
	}
	return nil
}

// PublishWithAck 发布并等待确认。timeout <= 0 时使用默认超时
//
// 确认通道在发布之前建立，确认不会因为先于订阅到达而丢失。
// 超时返回 {Success:false, Acknowledged:false, Error:ErrAckTimeout}。
func (p *PubSub) PublishWithAck(ctx context.Context, channel string, msg *Message, timeout time.Duration) AckResult {
	start := p.now()
	if timeout <= 0 {
		timeout = p.timeout
	}
	p.prepare(msg)
	ackChannel := AckChannel(channel, msg.ID)
	msg.ReplyTo = ackChannel

	res := AckResult{MessageID: msg.ID}
	finish := func(outcome string) AckResult {
		res.Duration = p.now().Sub(start)
		p.acks.Inc(ctx, metrics.L(metrics.LabelChannel, channel), metrics.L(metrics.LabelOutcome, outcome))
		p.ackWait.Record(ctx, res.Duration.Seconds(), metrics.L(metrics.LabelChannel, channel))
		return res
	}

	acked := make(chan struct{})
	var once sync.Once
	sub, err := p.transport.Subscribe(ctx, Topic(ackChannel), func(data []byte) {
		ack := &Message{}
		if err := p.codec.Unmarshal(data, ack); err != nil || ack.Type != AckEventType {
			return
		}
		var body ackPayload
		if err := json.Unmarshal(ack.Payload, &body); err != nil || body.MessageID != msg.ID {
			return
		}
		once.Do(func() { close(acked) })
	})
	if err != nil {
		res.Error = fmt.Errorf("pubsub: open ack channel: %w", err)
		return finish(metrics.OutcomeError)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn("close ack channel failed", clog.String("channel", ackChannel), clog.Error(err))
		}
	}()

	if err := p.Publish(ctx, channel, msg); err != nil {
		res.Error = err
		return finish(metrics.OutcomeError)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-acked:
		res.Success = true
		res.Acknowledged = true
		return finish(metrics.OutcomeSuccess)
	case <-timer.C:
		res.Error = fmt.Errorf("%w: %s after %s", ErrAckTimeout, msg.ID, timeout)
		p.logger.Debug("ack timeout", clog.String("channel", channel), clog.String("message_id", msg.ID))
		return finish(metrics.OutcomeTimeout)
	case <-ctx.Done():
		res.Error = ctx.Err()
		return finish(metrics.OutcomeError)
	}
}

func (p *PubSub) spanMeta(channel, messageID, operation string) trace.MessagingMeta {
	return trace.MessagingMeta{
		System:      p.system,
		Destination: channel,
		Operation:   operation,
		MessageID:   messageID,
	}
}

// Ack 在消息的 ReplyTo 通道上回复确认
func (p *PubSub) Ack(ctx context.Context, msg *Message) error {
	if msg.ReplyTo == "" || !isAckChannel(msg.ReplyTo) {
		return ErrNoReplyTo
	}
	payload, err := json.Marshal(ackPayload{MessageID: msg.ID})
	if err != nil {
		return err
	}
	ack := &Message{
		Type:          AckEventType,
		Recipient:     msg.Sender,
		Payload:       payload,
		CorrelationID: msg.ID,
	}
	p.prepare(ack)
	return p.send(ctx, msg.ReplyTo, ack)
}

// Channels 当前打开的通道及其处理器数量
func (p *PubSub) Channels() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.channels))
	for name, conn := range p.channels {
		out[name] = len(conn.handlers)
	}
	return out
}

// Close 关闭所有通道订阅，通过 Open 创建时同时关闭传输层
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*channelConn, 0, len(p.channels))
	for _, conn := range p.channels {
		conns = append(conns, conn)
	}
	p.channels = make(map[string]*channelConn)
	p.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.owned {
		if err := p.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
