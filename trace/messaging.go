package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Messaging 语义属性键
const (
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"
	AttrMessagingMessageID   = "messaging.message.id"
)

// 消息系统，对应 pubsub 的传输层
const (
	MessagingSystemMemory = "memory"
	MessagingSystemNATS   = "nats"
	MessagingSystemRedis  = "redis"
)

// 消息操作
const (
	MessagingOperationPublish = "publish"
	MessagingOperationProcess = "process"
)

// TraceRelation 消费者 Span 与生产者 Span 的关系
type TraceRelation string

const (
	// RelationLink 使用 Span Link 关联上游，默认
	RelationLink TraceRelation = "link"
	// RelationChildOf 把消费者挂在生产者之下，串成单条 Trace
	RelationChildOf TraceRelation = "child_of"
)

// MessagingMeta 消息 Span 的标准属性
type MessagingMeta struct {
	System      string
	Destination string
	Operation   string
	MessageID   string
	Relation    TraceRelation
}

// SpanNamePublish 发布 Span 名称
func SpanNamePublish(channel string) string {
	if channel == "" {
		return "pubsub.publish"
	}
	return "pubsub.publish " + channel
}

// SpanNameProcess 消费 Span 名称
func SpanNameProcess(channel string) string {
	if channel == "" {
		return "pubsub.process"
	}
	return "pubsub.process " + channel
}

// Inject 将 ctx 中的 Span 上下文写入 headers
func Inject(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// Extract 从 headers 恢复上下文
func Extract(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

func normalizeTracer(tracer oteltrace.Tracer) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer("meshlink/trace")
	}
	return tracer
}

func messagingAttributes(meta MessagingMeta, attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+4)
	if meta.System != "" {
		out = append(out, attribute.String(AttrMessagingSystem, meta.System))
	}
	if meta.Destination != "" {
		out = append(out, attribute.String(AttrMessagingDestination, meta.Destination))
	}
	if meta.Operation != "" {
		out = append(out, attribute.String(AttrMessagingOperation, meta.Operation))
	}
	if meta.MessageID != "" {
		out = append(out, attribute.String(AttrMessagingMessageID, meta.MessageID))
	}
	return append(out, attrs...)
}

// StartProducerSpan 启动生产者 Span，并返回注入了上下文的 headers
func StartProducerSpan(
	ctx context.Context,
	tracer oteltrace.Tracer,
	spanName string,
	meta MessagingMeta,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span, map[string]string) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := normalizeTracer(tracer).Start(ctx, spanName, oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
	span.SetAttributes(messagingAttributes(meta, attrs...)...)

	headers := map[string]string{}
	Inject(spanCtx, headers)
	return spanCtx, span, headers
}

// StartConsumerSpanFromHeaders 从 headers 启动消费者 Span
//
// 默认以 Link 关联上游，MessagingMeta.Relation 为 child_of 时作为子 Span。
func StartConsumerSpanFromHeaders(
	ctx context.Context,
	tracer oteltrace.Tracer,
	spanName string,
	headers map[string]string,
	meta MessagingMeta,
	attrs ...attribute.KeyValue,
) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	parent := ctx
	startOpts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(oteltrace.SpanKindConsumer)}
	if len(headers) > 0 {
		extracted := Extract(ctx, headers)
		if remote := oteltrace.SpanContextFromContext(extracted); remote.IsValid() {
			if meta.Relation == RelationChildOf {
				parent = extracted
			} else {
				startOpts = append(startOpts, oteltrace.WithLinks(oteltrace.Link{SpanContext: remote}))
			}
		}
	}

	spanCtx, span := normalizeTracer(tracer).Start(parent, spanName, startOpts...)
	span.SetAttributes(messagingAttributes(meta, attrs...)...)
	return spanCtx, span
}

// MarkSpanError err 不为 nil 时记录错误并标记状态
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
