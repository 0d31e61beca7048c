package pubsub

import (
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
)

// Option PubSub 选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	codec      Codec
	sender     string
	autoAck    bool
	ackTimeout time.Duration
	now        func() time.Time
	newID      func() string
	owned      bool
	tracer     oteltrace.Tracer
}

// WithLogger 注入日志记录器，组件内部自动追加 "pubsub" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("pubsub")
		}
	}
}

// WithMeter 注入指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithCodec 设置信封编码，默认 JSON
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithSender 设置发布时填入的发送方
func WithSender(sender string) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// WithAutoAck 带 ReplyTo 的消息在所有处理器成功后自动确认
func WithAutoAck(enabled bool) Option {
	return func(o *options) {
		o.autoAck = enabled
	}
}

// WithAckTimeout PublishWithAck 的默认超时
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 替换消息 ID 生成器
func WithIDGenerator(next func() string) Option {
	return func(o *options) {
		if next != nil {
			o.newID = next
		}
	}
}

// WithTracer 指定 Tracer，默认使用全局 TracerProvider
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// withOwnedTransport Close 时同时关闭传输层
func withOwnedTransport() Option {
	return func(o *options) {
		o.owned = true
	}
}
