package mesh

import (
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/pubsub"
)

// Option Mesh 选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	transport pubsub.Transport
}

// WithLogger 使用已有日志记录器，忽略 Config.Log
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeter 使用已有指标，忽略 Config.Metrics
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithTransport 使用已有的 pubsub 传输层，忽略 Config.PubSub.Transport
func WithTransport(t pubsub.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}
