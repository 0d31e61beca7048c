// Package mesh 把注册表、熔断器、同步客户端、负载均衡、异步发布订阅和本地事件总线
// 组装成一个可启停的整体。
//
//	cfg, loader, err := mesh.LoadConfig(ctx, config.WithConfigName("meshd"))
//	m, err := mesh.New(cfg)
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Stop(context.Background())
//
//	_ = m.WatchStrategy(ctx, loader)
//	res := m.Balancer.Call(ctx, "order", balancer.Request{Request: client.Request{Method: "GET", Path: "/orders/1"}})
//
// 各组件也可以单独使用，Mesh 只负责按配置构造并注入日志、指标。
package mesh

import (
	"context"
	"fmt"

	"github.com/ceyewan/meshlink/balancer"
	"github.com/ceyewan/meshlink/breaker"
	"github.com/ceyewan/meshlink/client"
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/config"
	"github.com/ceyewan/meshlink/eventbus"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/pubsub"
	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/trace"
)

// StrategyKey 负载均衡策略的配置键，WatchStrategy 监听它
const StrategyKey = "balancer.strategy"

// Mesh 组件集合
type Mesh struct {
	Logger   clog.Logger
	Meter    metrics.Meter
	Registry *registry.Registry
	Breakers *breaker.Manager
	Client   *client.Client
	Balancer *balancer.LoadBalancer
	PubSub   *pubsub.PubSub
	Events   *eventbus.Bus

	cfg       Config
	lifecycle lifecycle
}

// New 按配置构造所有组件，不启动后台任务
func New(cfg *Config, opts ...Option) (*Mesh, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.Registry.Normalize(); err != nil {
		return nil, fmt.Errorf("mesh: registry config: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	m := &Mesh{cfg: c}
	if err := m.initObservability(o); err != nil {
		return nil, err
	}
	if err := m.initComponents(o); err != nil {
		_ = m.lifecycle.abort(context.Background())
		return nil, err
	}

	m.Logger.Info("mesh created",
		clog.String("name", c.Name),
		clog.String("strategy", m.Balancer.Strategy().Name()),
		clog.String("transport", c.PubSub.Transport))
	return m, nil
}

func (m *Mesh) initObservability(o *options) error {
	if o.logger != nil {
		m.Logger = o.logger
	} else {
		logger, err := clog.New(&m.cfg.Log, clog.WithNamespace(m.cfg.Name))
		if err != nil {
			return fmt.Errorf("mesh: create logger: %w", err)
		}
		m.Logger = logger
	}

	if o.meter != nil {
		m.Meter = o.meter
	} else {
		meter, err := metrics.New(&m.cfg.Metrics, metrics.WithLogger(m.Logger))
		if err != nil {
			return fmt.Errorf("mesh: create meter: %w", err)
		}
		m.Meter = meter
	}
	m.lifecycle.register(lifecycleItem{
		name:  "metrics",
		phase: phaseObservability,
		stop:  m.Meter.Shutdown,
	})

	shutdown, err := trace.Init(&m.cfg.Trace)
	if err != nil {
		_ = m.lifecycle.abort(context.Background())
		return fmt.Errorf("mesh: init trace: %w", err)
	}
	m.lifecycle.register(lifecycleItem{
		name:  "trace",
		phase: phaseObservability,
		stop:  shutdown,
	})
	return nil
}

func (m *Mesh) initComponents(o *options) error {
	var err error
	c := &m.cfg

	m.Registry = registry.New(registry.WithLogger(m.Logger), registry.WithMeter(m.Meter))

	if m.Breakers, err = breaker.New(&c.Breaker, breaker.WithLogger(m.Logger), breaker.WithMeter(m.Meter)); err != nil {
		return fmt.Errorf("mesh: create breaker: %w", err)
	}
	if m.Client, err = client.New(&c.Client, client.WithLogger(m.Logger), client.WithMeter(m.Meter)); err != nil {
		return fmt.Errorf("mesh: create client: %w", err)
	}
	m.Balancer, err = balancer.New(m.Registry, m.Breakers, m.Client, &c.Balancer,
		balancer.WithLogger(m.Logger), balancer.WithMeter(m.Meter))
	if err != nil {
		return fmt.Errorf("mesh: create balancer: %w", err)
	}

	psOpts := []pubsub.Option{pubsub.WithLogger(m.Logger), pubsub.WithMeter(m.Meter)}
	if o.transport != nil {
		m.PubSub, err = pubsub.NewWithConfig(o.transport, &c.PubSub, psOpts...)
	} else {
		m.PubSub, err = pubsub.Open(&c.PubSub, psOpts...)
	}
	if err != nil {
		return fmt.Errorf("mesh: create pubsub: %w", err)
	}
	m.lifecycle.register(lifecycleItem{
		name:  "pubsub",
		phase: phaseTransport,
		stop:  func(context.Context) error { return m.PubSub.Close() },
	})

	if m.Events, err = eventbus.New(&c.EventBus, eventbus.WithLogger(m.Logger), eventbus.WithMeter(m.Meter)); err != nil {
		return fmt.Errorf("mesh: create eventbus: %w", err)
	}
	m.lifecycle.register(lifecycleItem{
		name:  "eventbus",
		phase: phaseComponent,
		stop:  m.Events.Close,
	})

	if c.Registry.CleanupInterval > 0 {
		var janitor *registry.Janitor
		m.lifecycle.register(lifecycleItem{
			name:  "registry-janitor",
			phase: phaseComponent,
			start: func(ctx context.Context) error {
				// 清理协程的生命周期由 Stop 控制
				var err error
				janitor, err = registry.StartJanitor(context.WithoutCancel(ctx), m.Registry,
					c.Registry.CleanupInterval, c.Registry.HeartbeatTimeout)
				return err
			},
			stop: func(context.Context) error {
				if janitor != nil {
					janitor.Stop()
				}
				return nil
			},
		})
	}
	return nil
}

// Config 生效的配置（已填充默认值）
func (m *Mesh) Config() Config {
	return m.cfg
}

// Start 启动后台任务
func (m *Mesh) Start(ctx context.Context) error {
	if err := m.lifecycle.startAll(ctx); err != nil {
		_ = m.lifecycle.stopAll(ctx)
		return err
	}
	m.Logger.Info("mesh started", clog.String("name", m.cfg.Name))
	return nil
}

// Stop 逆序停止，ctx 限制等待事件处理器结束的时间
func (m *Mesh) Stop(ctx context.Context) error {
	err := m.lifecycle.stopAll(ctx)
	if err != nil {
		m.Logger.Error("mesh stopped with errors", clog.Error(err))
		return err
	}
	m.Logger.Info("mesh stopped", clog.String("name", m.cfg.Name))
	return nil
}

// WatchStrategy 监听 balancer.strategy，变化时切换负载均衡策略，ctx 取消后退出
func (m *Mesh) WatchStrategy(ctx context.Context, loader config.Loader) error {
	ch, err := loader.Watch(ctx, StrategyKey)
	if err != nil {
		return err
	}
	go func() {
		for ev := range ch {
			name, ok := ev.Value.(string)
			if !ok {
				m.Logger.Warn("ignore non-string strategy", clog.Any("value", ev.Value))
				continue
			}
			if err := m.Balancer.SetStrategy(name); err != nil {
				m.Logger.Warn("switch strategy failed", clog.String("strategy", name), clog.Error(err))
				continue
			}
			m.Logger.Info("strategy switched",
				clog.Any("from", ev.OldValue),
				clog.String("to", name))
		}
	}()
	return nil
}
