package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const dialTimeout = 300 * time.Millisecond

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NATSConn 连接本地 NATS，不可达时跳过测试
// 地址可通过 MESHLINK_TEST_NATS_URL 覆盖
func NATSConn(t *testing.T) *nats.Conn {
	t.Helper()
	url := getenv("MESHLINK_TEST_NATS_URL", nats.DefaultURL)
	conn, err := nats.Connect(url, nats.Timeout(dialTimeout))
	if err != nil {
		t.Skipf("nats unavailable at %s: %v", url, err)
	}
	t.Cleanup(conn.Close)
	return conn
}

// RedisClient 连接本地 Redis，不可达时跳过测试
// 地址可通过 MESHLINK_TEST_REDIS_ADDR 覆盖，使用 DB 1 避免与默认库冲突
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := getenv("MESHLINK_TEST_REDIS_ADDR", "127.0.0.1:6379")
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 1})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
