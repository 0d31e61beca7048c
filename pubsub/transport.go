package pubsub

import (
	"context"
	"time"

	"github.com/ceyewan/meshlink/trace"
)

// Transport 底层广播机制
//
// 实现需要保证：Subscribe 返回时订阅已经生效，之后发布到该 topic 的消息一定能被收到。
// PublishWithAck 依赖这一点在发布前建立确认通道。
type Transport interface {
	// Publish 向 topic 广播一条原始消息
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe 订阅 topic，handler 在传输层自己的 goroutine 中串行调用
	Subscribe(ctx context.Context, topic string, handler func(data []byte)) (Subscription, error)

	// Close 关闭传输层，释放其拥有的连接
	Close() error
}

// Subscription 传输层订阅句柄
type Subscription interface {
	Unsubscribe() error
}

const defaultSubscribeTimeout = 5 * time.Second

// withDefaultDeadline 为建立订阅的往返设置上限，调用方已给出截止时间时沿用
func withDefaultDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultSubscribeTimeout)
}

// systemOf 传输层对应的 messaging.system 属性
func systemOf(t Transport) string {
	switch t.(type) {
	case *NATSTransport:
		return trace.MessagingSystemNATS
	case *RedisTransport:
		return trace.MessagingSystemRedis
	case *MemoryTransport:
		return trace.MessagingSystemMemory
	default:
		return "custom"
	}
}
