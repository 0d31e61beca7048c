package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errRecordedFailure = errors.New("breaker: recorded failure")

// Snapshot 熔断器快照
type Snapshot struct {
	Service     string    `json:"service"`
	Instance    string    `json:"instance"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
	// FailureRate 仅窗口模式有值
	FailureRate float64 `json:"failureRate,omitempty"`
}

// Breaker 单个实例的熔断器
//
// 状态机由 gobreaker 的两段式熔断器驱动：每次 Record 都是一次完整的
// Allow + done。OPEN 期间的失败会重新打开熔断器，半开时间从最近一次失败起算。
// Failures 与熔断判定使用的连续失败数一致，Interval 模式下随计数周期清零。
type Breaker struct {
	mgr      *Manager
	service  string
	instance string

	mu          sync.Mutex
	cb          *gobreaker.TwoStepCircuitBreaker[struct{}]
	window      *window
	failures    int
	lastFailure time.Time
	// forceTrip 置位时下一次失败直接打开，用于重建后回到 OPEN
	forceTrip bool
	// silent 重建期间不上报状态变化
	silent bool
}

func newBreaker(m *Manager, service, instance string) *Breaker {
	b := &Breaker{mgr: m, service: service, instance: instance}
	if m.cfg.WindowSize > 0 {
		b.window = newWindow(m.cfg.WindowSize)
	}
	b.cb = b.newCircuit()
	return b
}

func (b *Breaker) newCircuit() *gobreaker.TwoStepCircuitBreaker[struct{}] {
	cfg := b.mgr.cfg
	st := gobreaker.Settings{
		Name:        Key(b.service, b.instance),
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: b.readyToTrip,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if b.silent {
				return
			}
			if to == gobreaker.StateClosed && b.window != nil {
				b.window.reset()
			}
			b.mgr.onStateChange(b, from, to)
		},
	}
	if b.window == nil {
		st.Interval = cfg.Interval
	}
	return gobreaker.NewTwoStepCircuitBreaker[struct{}](st)
}

func (b *Breaker) readyToTrip(counts gobreaker.Counts) bool {
	if b.forceTrip {
		return true
	}
	if b.window != nil {
		total, rate := b.window.stats()
		return total >= b.mgr.cfg.MinimumRequests && rate >= b.mgr.cfg.FailureRatio
	}
	return counts.ConsecutiveFailures >= b.mgr.cfg.FailureThreshold
}

// IsOpen 是否拒绝调用
//
// OPEN 且超时已过时转为 HALF_OPEN 并返回 false，放行一次试探调用。
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb.State() == gobreaker.StateOpen
}

// RecordSuccess 清零失败计数并强制关闭
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.window != nil {
		b.window.record(true)
	}

	done, err := b.cb.Allow()
	if err == nil {
		done(nil)
		return
	}

	// OPEN 期间收到成功（例如打开前发出的调用晚到）直接重建为 CLOSED
	from := b.cb.State()
	b.cb = b.newCircuit()
	if b.window != nil {
		b.window.reset()
	}
	b.mgr.onStateChange(b, from, gobreaker.StateClosed)
}

// RecordFailure 失败计数加一，达到阈值或处于半开时打开
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncFailures()
	b.failures++
	b.lastFailure = time.Now()
	if b.window != nil {
		b.window.record(false)
	}

	done, err := b.cb.Allow()
	if err == nil {
		done(errRecordedFailure)
		return
	}
	// 已经 OPEN：重建并立即打开，半开时间从这次失败重新计算
	if errors.Is(err, gobreaker.ErrOpenState) {
		b.reopen()
	}
}

// reopen 以一个新的 OPEN 熔断器替换当前熔断器，不产生状态变化通知
func (b *Breaker) reopen() {
	b.silent = true
	b.forceTrip = true
	defer func() {
		b.silent = false
		b.forceTrip = false
	}()

	b.cb = b.newCircuit()
	if done, err := b.cb.Allow(); err == nil {
		done(errRecordedFailure)
	}
}

// syncFailures Interval 模式下 gobreaker 会按周期清空 CLOSED 计数，这里保持一致
func (b *Breaker) syncFailures() {
	if b.window != nil || b.mgr.cfg.Interval <= 0 {
		return
	}
	if b.cb.State() == gobreaker.StateClosed {
		b.failures = int(b.cb.Counts().ConsecutiveFailures)
	}
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fromGobreaker(b.cb.State())
}

// Snapshot 当前快照
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncFailures()
	s := Snapshot{
		Service:     b.service,
		Instance:    b.instance,
		State:       fromGobreaker(b.cb.State()),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
	if b.window != nil {
		_, s.FailureRate = b.window.stats()
	}
	return s
}
