package eventbus

import (
	"time"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
)

// Option 总线选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	now    func() time.Time
	newID  func() string
}

// WithLogger 注入日志记录器，组件内部自动追加 "eventbus" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("eventbus")
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

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 替换事件 ID 生成器
func WithIDGenerator(next func() string) Option {
	return func(o *options) {
		if next != nil {
			o.newID = next
		}
	}
}
