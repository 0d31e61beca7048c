package mesh

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/meshlink/balancer"
	"github.com/ceyewan/meshlink/breaker"
	"github.com/ceyewan/meshlink/client"
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/config"
	"github.com/ceyewan/meshlink/eventbus"
	"github.com/ceyewan/meshlink/pubsub"
	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/testkit"
	"github.com/ceyewan/meshlink/trace"
	"github.com/ceyewan/meshlink/xerrors"
)

func newTestMesh(t *testing.T, cfg *Config) *Mesh {
	t.Helper()
	m, err := New(cfg, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter(t)))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestNew_Defaults(t *testing.T) {
	m := newTestMesh(t, nil)

	cfg := m.Config()
	assert.Equal(t, "meshlink", cfg.Name)
	assert.Equal(t, "meshlink", cfg.PubSub.Sender)
	assert.Equal(t, "meshlink", cfg.Trace.ServiceName)
	assert.Equal(t, trace.ExporterNone, cfg.Trace.Exporter)
	assert.Equal(t, 30*time.Second, cfg.Registry.HeartbeatTimeout)
	assert.Equal(t, balancer.RoundRobin, m.Balancer.Strategy().Name())
	assert.NotNil(t, m.Registry)
	assert.NotNil(t, m.Breakers)
	assert.NotNil(t, m.Client)
	assert.NotNil(t, m.PubSub)
	assert.NotNil(t, m.Events)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{Balancer: balancer.Config{Strategy: "fastest"}}, WithLogger(clog.Discard()))
	assert.Error(t, err)

	_, err = New(&Config{PubSub: pubsub.Config{Transport: "kafka"}}, WithLogger(clog.Discard()))
	assert.ErrorIs(t, err, pubsub.ErrUnsupportedTransport)

	_, err = New(&Config{Trace: trace.Config{Exporter: "zipkin"}}, WithLogger(clog.Discard()))
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = New(&Config{Registry: registry.Config{HeartbeatTimeout: -time.Second}}, WithLogger(clog.Discard()))
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestCallThroughMesh(t *testing.T) {
	m := newTestMesh(t, &Config{Balancer: balancer.Config{RetryDelay: time.Millisecond}})
	up := testkit.NewUpstream(t, func(r *gin.Engine) {
		r.GET("/orders/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
		})
	})

	_, err := m.Registry.Register(registry.Registration{ServiceName: "order", ID: "a", Host: up.Host, Port: up.Port})
	require.NoError(t, err)

	res := m.Balancer.Call(context.Background(), "order", balancer.Request{
		Request: client.Request{Method: http.MethodGet, Path: "/orders/42"},
	})
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, 1, res.Attempts)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "42", body.ID)
}

func TestCallSkipsTrippedInstance(t *testing.T) {
	m := newTestMesh(t, &Config{
		Breaker:  breaker.Config{FailureThreshold: 2, Timeout: time.Minute},
		Balancer: balancer.Config{RetryDelay: time.Millisecond},
	})
	bad := testkit.NewStatusUpstream(t, "bad", http.StatusServiceUnavailable)
	good := testkit.NewStatusUpstream(t, "good", http.StatusOK)

	_, err := m.Registry.Register(registry.Registration{ServiceName: "stock", ID: "bad", Host: bad.Host, Port: bad.Port})
	require.NoError(t, err)
	_, err = m.Registry.Register(registry.Registration{ServiceName: "stock", ID: "good", Host: good.Host, Port: good.Port})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		res := m.Balancer.Call(context.Background(), "stock", balancer.Request{
			Request: client.Request{Method: http.MethodGet, Path: "/stock/1"},
		})
		require.True(t, res.Success, "call %d: %v", i, res.Error)
		assert.Equal(t, "good", res.Instance.ID)
	}
	assert.True(t, m.Breakers.IsOpen("stock", "bad"))
}

func TestPubSubAndEvents(t *testing.T) {
	m := newTestMesh(t, &Config{PubSub: pubsub.Config{AutoAck: true}})
	ctx := context.Background()

	unsub, err := m.PubSub.Subscribe(ctx, "orders", func(context.Context, *pubsub.Message) error { return nil })
	require.NoError(t, err)
	defer unsub()

	msg, err := pubsub.NewMessage("order.created", map[string]string{"id": "o-1"})
	require.NoError(t, err)
	res := m.PubSub.PublishWithAck(ctx, "orders", msg, time.Second)
	assert.True(t, res.Acknowledged)
	assert.Equal(t, "meshlink", msg.Sender)

	m.Events.Subscribe("order.created", "audit", func(context.Context, eventbus.DomainEvent) error { return nil })
	rec, err := m.Events.Publish(ctx, eventbus.DomainEvent{Type: "order.created", AggregateID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Succeeded())
}

func TestWithTransport(t *testing.T) {
	tr := pubsub.NewMemoryTransport()
	defer tr.Close()

	m, err := New(&Config{PubSub: pubsub.Config{Codec: pubsub.CodecMsgpack}}, WithLogger(clog.Discard()), WithTransport(tr))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	// 注入的传输层不随 Mesh 关闭
	require.NoError(t, tr.Publish(context.Background(), "t", nil))
}

func TestJanitorCleansExpiredInstances(t *testing.T) {
	m := newTestMesh(t, &Config{Registry: registry.Config{
		HeartbeatTimeout: 20 * time.Millisecond,
		CleanupInterval:  10 * time.Millisecond,
	}})

	_, err := m.Registry.Register(registry.Registration{ServiceName: "order", Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(m.Registry.GetInstances("order")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIdempotent(t *testing.T) {
	m, err := New(nil, WithLogger(clog.Discard()))
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	_, err = m.Events.Publish(context.Background(), eventbus.DomainEvent{Type: "tick"})
	assert.ErrorIs(t, err, eventbus.ErrClosed)
}

func TestLifecycleOrder(t *testing.T) {
	var l lifecycle
	var order []string
	item := func(name string, phase int, failStop bool) lifecycleItem {
		return lifecycleItem{
			name:  name,
			phase: phase,
			start: func(context.Context) error { order = append(order, "start:"+name); return nil },
			stop: func(context.Context) error {
				order = append(order, "stop:"+name)
				if failStop {
					return errors.New("stuck")
				}
				return nil
			},
		}
	}
	l.register(item("component", phaseComponent, true))
	l.register(item("metrics", phaseObservability, false))
	l.register(item("transport", phaseTransport, false))

	require.NoError(t, l.startAll(context.Background()))
	err := l.stopAll(context.Background())

	assert.Equal(t, []string{
		"start:metrics", "start:transport", "start:component",
		"stop:component", "stop:transport", "stop:metrics",
	}, order)
	var lerr *LifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "component", lerr.Name)
}

func TestLifecycleAbort(t *testing.T) {
	var l lifecycle
	var stopped []string
	for _, name := range []string{"metrics", "trace", "pubsub"} {
		l.register(lifecycleItem{name: name, stop: func(context.Context) error {
			stopped = append(stopped, name)
			return nil
		}})
	}

	require.NoError(t, l.abort(context.Background()))
	assert.Equal(t, []string{"pubsub", "trace", "metrics"}, stopped)
	assert.NoError(t, l.stopAll(context.Background()))
	assert.Len(t, stopped, 3)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `
name: meshd
balancer:
  strategy: least_connections
  max_retries: 5
  retry_delay: 250ms
breaker:
  failure_threshold: 3
pubsub:
  codec: msgpack
eventbus:
  max_history: 100
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("MESHTEST_BALANCER_MAX_RETRIES", "7")

	cfg, loader, err := LoadConfig(context.Background(),
		config.WithConfigPaths(dir), config.WithEnvPrefix("MESHTEST"))
	require.NoError(t, err)
	require.NotNil(t, loader)

	assert.Equal(t, "meshd", cfg.Name)
	assert.Equal(t, balancer.LeastConnections, cfg.Balancer.Strategy)
	assert.Equal(t, 7, cfg.Balancer.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Balancer.RetryDelay)
	assert.Equal(t, uint32(3), cfg.Breaker.FailureThreshold)
	assert.Equal(t, pubsub.CodecMsgpack, cfg.PubSub.Codec)
	assert.Equal(t, 100, cfg.EventBus.MaxHistory)

	m := newTestMesh(t, cfg)
	assert.Equal(t, balancer.LeastConnections, m.Balancer.Strategy().Name())
}

func TestWatchStrategy(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("balancer:\n  strategy: random\n"), 0o644))

	cfg, loader, err := LoadConfig(context.Background(),
		config.WithConfigPaths(dir), config.WithEnvPrefix("MESHWATCHTEST"))
	require.NoError(t, err)
	m := newTestMesh(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.WatchStrategy(ctx, loader))

	require.NoError(t, os.WriteFile(file, []byte("balancer:\n  strategy: ip_hash\n"), 0o644))
	deadline := time.Now().Add(3 * time.Second)
	for m.Balancer.Strategy().Name() != balancer.IPHash {
		if time.Now().After(deadline) {
			t.Skip("file watcher did not fire in time on this platform")
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, balancer.IPHash, m.Balancer.Strategy().Name())
}
