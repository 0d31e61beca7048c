// Package metrics 为 meshlink 提供基于 OpenTelemetry 的指标收集能力。
//
// Meter 通过 Prometheus Exporter 暴露指标；Config.Enabled 为 false 或未注入
// Meter 时使用 Discard()，所有记录都是空操作。
//
//	meter, _ := metrics.New(&metrics.Config{
//	    Enabled:     true,
//	    ServiceName: "meshd",
//	    Port:        9090,
//	    Path:        "/metrics",
//	})
//	defer meter.Shutdown(ctx)
//
//	calls, _ := meter.Counter("balancer_calls_total", "负载均衡调用总数")
//	calls.Inc(ctx, metrics.L(metrics.LabelService, "order"), metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
package metrics

import "context"

// Counter 只增计数器
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可增可减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 值分布，例如调用耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂
//
// 同名指标重复创建时返回底层同一个 OTel instrument，组件可各自创建。
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Shutdown 刷新指标并关闭 HTTP 暴露端口
	Shutdown(ctx context.Context) error
}

// MetricOption 指标选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项集合
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置单位（UCUM 代码，如 "s"、"By"）
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图桶边界
func WithBuckets(buckets ...float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = buckets
	}
}
