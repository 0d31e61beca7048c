package metrics

import "context"

type noopMeter struct{}

// Discard 返回空操作 Meter
func Discard() Meter { return noopMeter{} }

func (noopMeter) Counter(string, string, ...MetricOption) (Counter, error) {
	return noopCounter{}, nil
}

func (noopMeter) Gauge(string, string, ...MetricOption) (Gauge, error) {
	return noopGauge{}, nil
}

func (noopMeter) Histogram(string, string, ...MetricOption) (Histogram, error) {
	return noopHistogram{}, nil
}

func (noopMeter) Shutdown(context.Context) error { return nil }

type noopCounter struct{}

func (noopCounter) Inc(context.Context, ...Label)          {}
func (noopCounter) Add(context.Context, float64, ...Label) {}

type noopGauge struct{}

func (noopGauge) Set(context.Context, float64, ...Label) {}
func (noopGauge) Inc(context.Context, ...Label)          {}
func (noopGauge) Dec(context.Context, ...Label)          {}

type noopHistogram struct{}

func (noopHistogram) Record(context.Context, float64, ...Label) {}

// MustCounter 创建失败时退化为空操作计数器
//
// 组件构造时使用，指标创建失败不应阻止组件工作。
func MustCounter(m Meter, name, desc string, opts ...MetricOption) Counter {
	if m == nil {
		return noopCounter{}
	}
	c, err := m.Counter(name, desc, opts...)
	if err != nil {
		return noopCounter{}
	}
	return c
}

// MustGauge 同 MustCounter
func MustGauge(m Meter, name, desc string, opts ...MetricOption) Gauge {
	if m == nil {
		return noopGauge{}
	}
	g, err := m.Gauge(name, desc, opts...)
	if err != nil {
		return noopGauge{}
	}
	return g
}

// MustHistogram 同 MustCounter
func MustHistogram(m Meter, name, desc string, opts ...MetricOption) Histogram {
	if m == nil {
		return noopHistogram{}
	}
	h, err := m.Histogram(name, desc, opts...)
	if err != nil {
		return noopHistogram{}
	}
	return h
}
