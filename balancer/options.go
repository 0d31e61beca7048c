package balancer

import (
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
)

// Option 组件选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	strategy Strategy
}

// WithLogger 注入 Logger，追加 namespace "balancer"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("balancer")
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

// WithStrategy 使用自定义策略，忽略 Config.Strategy
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}
