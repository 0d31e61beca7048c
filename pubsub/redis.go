package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport 基于 Redis Pub/Sub 的广播，至多一次投递
type RedisTransport struct {
	client redis.UniversalClient
	own    bool
}

// NewRedisTransport 使用已有客户端，Close 不会关闭该客户端
func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

// DialRedis 创建客户端并创建传输层，Close 时关闭客户端
func DialRedis(opts *redis.UniversalOptions) *RedisTransport {
	return &RedisTransport{client: redis.NewUniversalClient(opts), own: true}
}

// Publish 实现 Transport
func (t *RedisTransport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := t.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("pubsub: redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 实现 Transport
func (t *RedisTransport) Subscribe(ctx context.Context, topic string, handler func([]byte)) (Subscription, error) {
	// 订阅的生命周期由 Unsubscribe 控制，不跟随调用方 ctx
	ps := t.client.Subscribe(context.Background(), topic)
	ctx, cancel := withDefaultDeadline(ctx)
	defer cancel()
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub: redis subscribe %s: %w", topic, err)
	}

	s := &redisSubscription{ps: ps}
	ch := ps.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return s, nil
}

// Close 实现 Transport
func (t *RedisTransport) Close() error {
	if t.own {
		return t.client.Close()
	}
	return nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	once sync.Once
	err  error
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}
