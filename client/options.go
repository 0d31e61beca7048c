package client

import (
	"net/http"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/idgen"
	"github.com/ceyewan/meshlink/metrics"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	transport http.RoundTripper
	newID     func() string
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		newID:  idgen.NewCorrelationID,
	}
}

// WithLogger 注入 Logger，追加 namespace "client"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("client")
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

// WithTransport 替换底层 RoundTripper，仍会被 otelhttp 包装
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithIDGenerator 替换关联 ID 生成器
func WithIDGenerator(next func() string) Option {
	return func(o *options) {
		if next != nil {
			o.newID = next
		}
	}
}
