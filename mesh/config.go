package mesh

import (
	"context"

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

// Config 汇总各组件配置
//
//	name: meshd
//	log:
//	  level: info
//	  format: json
//	trace:
//	  exporter: otlp
//	  endpoint: localhost:4317
//	registry:
//	  heartbeat_timeout: 30s
//	  cleanup_interval: 10s
//	breaker:
//	  failure_threshold: 5
//	  timeout: 60s
//	balancer:
//	  strategy: round_robin
//	  max_retries: 3
//	pubsub:
//	  transport: nats
//	  nats:
//	    url: nats://127.0.0.1:4222
type Config struct {
	Name     string          `mapstructure:"name" yaml:"name" json:"name"`
	Log      clog.Config     `mapstructure:"log" yaml:"log" json:"log"`
	Metrics  metrics.Config  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Trace    trace.Config    `mapstructure:"trace" yaml:"trace" json:"trace"`
	Registry registry.Config `mapstructure:"registry" yaml:"registry" json:"registry"`
	Breaker  breaker.Config  `mapstructure:"breaker" yaml:"breaker" json:"breaker"`
	Client   client.Config   `mapstructure:"client" yaml:"client" json:"client"`
	Balancer balancer.Config `mapstructure:"balancer" yaml:"balancer" json:"balancer"`
	PubSub   pubsub.Config   `mapstructure:"pubsub" yaml:"pubsub" json:"pubsub"`
	EventBus eventbus.Config `mapstructure:"eventbus" yaml:"eventbus" json:"eventbus"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "meshlink"
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = c.Name
	}
	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = c.Name
	}
	if c.Trace.Sampler == 0 {
		c.Trace.Sampler = 1.0
	}
	if c.PubSub.Sender == "" {
		c.PubSub.Sender = c.Name
	}
}

// LoadConfig 通过 config 包加载配置，返回的 Loader 可用于 WatchStrategy
func LoadConfig(ctx context.Context, opts ...config.Option) (*Config, config.Loader, error) {
	loader, err := config.Load(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	cfg := &Config{}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
