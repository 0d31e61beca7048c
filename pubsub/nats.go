package pubsub

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSTransport 基于 NATS Core 的广播，至多一次投递
type NATSTransport struct {
	conn *nats.Conn
	own  bool
}

// NewNATSTransport 使用已有连接，Close 不会关闭该连接
func NewNATSTransport(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// DialNATS 建立连接并创建传输层，Close 时关闭连接
func DialNATS(url string, opts ...nats.Option) (*NATSTransport, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect nats %s: %w", url, err)
	}
	return &NATSTransport{conn: conn, own: true}, nil
}

// Publish 实现 Transport
func (t *NATSTransport) Publish(_ context.Context, topic string, data []byte) error {
	if err := t.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("pubsub: nats publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 实现 Transport
func (t *NATSTransport) Subscribe(ctx context.Context, topic string, handler func([]byte)) (Subscription, error) {
	sub, err := t.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub: nats subscribe %s: %w", topic, err)
	}
	// 等服务端确认订阅，否则紧随其后的发布可能丢失
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()
	if err := t.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("pubsub: nats flush %s: %w", topic, err)
	}
	return sub, nil
}

// Close 实现 Transport
func (t *NATSTransport) Close() error {
	if t.own {
		t.conn.Close()
	}
	return nil
}
