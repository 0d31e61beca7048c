// Package breaker 为每个 (服务, 实例) 维护独立的熔断器。
//
// 熔断器有三个状态：
//   - CLOSED：正常放行，连续失败达到阈值后打开
//   - OPEN：拒绝调用，距最近一次失败超过 Timeout 后转为半开
//   - HALF_OPEN：放行试探调用，成功则关闭，失败则重新打开
//
// 负载均衡在每次选择前调用 IsOpen 过滤实例，调用结束后通过
// RecordSuccess / RecordFailure 回写结果：
//
//	mgr, _ := breaker.New(&breaker.Config{FailureThreshold: 5, Timeout: 30 * time.Second})
//	if !mgr.IsOpen("order", inst.ID) {
//		err := call()
//		if err != nil {
//			mgr.RecordFailure("order", inst.ID)
//		} else {
//			mgr.RecordSuccess("order", inst.ID)
//		}
//	}
//
// 熔断器首次使用时创建，之后在进程生命周期内一直保留。
package breaker

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/xerrors"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// ErrConfigNil 配置为空
var ErrConfigNil = xerrors.New("breaker: config is nil")

// Manager 按 service@instance 管理熔断器
type Manager struct {
	cfg      Config
	logger   clog.Logger
	breakers sync.Map // key -> *Breaker

	stateChanges metrics.Counter
}

// New 创建熔断器管理器
func New(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	o.logger.Info("circuit breaker manager created",
		clog.Int("failure_threshold", int(c.FailureThreshold)),
		clog.Duration("timeout", c.Timeout),
		clog.Duration("interval", c.Interval),
		clog.Int("window_size", c.WindowSize))

	return &Manager{
		cfg:          c,
		logger:       o.logger,
		stateChanges: metrics.MustCounter(o.meter, "breaker_state_changes_total", "熔断器状态变化次数"),
	}, nil
}

// Key 熔断器键
func Key(service, instance string) string {
	return service + "@" + instance
}

// Get 获取或创建熔断器
func (m *Manager) Get(service, instance string) *Breaker {
	key := Key(service, instance)
	if v, ok := m.breakers.Load(key); ok {
		return v.(*Breaker)
	}
	actual, _ := m.breakers.LoadOrStore(key, newBreaker(m, service, instance))
	return actual.(*Breaker)
}

// IsOpen 见 Breaker.IsOpen
func (m *Manager) IsOpen(service, instance string) bool {
	return m.Get(service, instance).IsOpen()
}

// RecordSuccess 见 Breaker.RecordSuccess
func (m *Manager) RecordSuccess(service, instance string) {
	m.Get(service, instance).RecordSuccess()
}

// RecordFailure 见 Breaker.RecordFailure
func (m *Manager) RecordFailure(service, instance string) {
	m.Get(service, instance).RecordFailure()
}

// State 返回当前状态，不存在的熔断器视为 CLOSED 且不会被创建
func (m *Manager) State(service, instance string) State {
	v, ok := m.breakers.Load(Key(service, instance))
	if !ok {
		return StateClosed
	}
	return v.(*Breaker).State()
}

// Stats 返回所有熔断器快照，按键排序
func (m *Manager) Stats() []Snapshot {
	var out []Snapshot
	m.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*Breaker).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].Service, out[i].Instance) < Key(out[j].Service, out[j].Instance)
	})
	return out
}

func (m *Manager) onStateChange(b *Breaker, from, to gobreaker.State) {
	m.logger.Info("circuit breaker state changed",
		clog.String("service", b.service),
		clog.String("instance", b.instance),
		clog.String("from", strings.ToLower(string(fromGobreaker(from)))),
		clog.String("to", strings.ToLower(string(fromGobreaker(to)))))
	m.stateChanges.Inc(context.Background(),
		metrics.L(metrics.LabelService, b.service),
		metrics.L(metrics.LabelInstance, b.instance),
		metrics.L(metrics.LabelState, string(fromGobreaker(to))))
}
