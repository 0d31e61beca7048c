// Package balancer 为每次调用选择健康实例并带重试地执行。
//
// 一次 Call 的流程：
//  1. 取注册表中状态为 UP 的实例，启用熔断时过滤掉已熔断的实例
//  2. 过滤后为空立即失败，不消耗重试次数
//  3. 按策略选出实例，在途计数加一，通过 client 发起调用，结束后计数减一
//  4. 成功则回写熔断器并返回；失败则回写熔断器，退避后重新选择
//
// 重试次数耗尽后返回 Success=false 的 Result，调用方按 Success 分支，
// 不需要处理 panic 或 error：
//
//	lb, _ := balancer.New(reg, brk, cli, &balancer.Config{Strategy: balancer.LeastConnections})
//	res := lb.Call(ctx, "order", balancer.Request{Request: client.Request{Method: "GET", Path: "/orders/1"}})
//	if !res.Success {
//		logger.Warn("order call failed", clog.Error(res.Error), clog.Int("attempts", res.Attempts))
//	}
package balancer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/ceyewan/meshlink/client"
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/idgen"
	"github.com/ceyewan/meshlink/metrics"
	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/xerrors"
)

// InstanceSource 健康实例来源，通常是 *registry.Registry
type InstanceSource interface {
	GetAvailableInstances(service string) []*registry.ServiceInstance
}

// CircuitBreaker 熔断器，通常是 *breaker.Manager
type CircuitBreaker interface {
	IsOpen(service, instance string) bool
	RecordSuccess(service, instance string)
	RecordFailure(service, instance string)
}

// Caller 同步调用，通常是 *client.Client
type Caller interface {
	Do(ctx context.Context, target client.Target, req client.Request) *client.Response
}

// Request 一次负载均衡调用
type Request struct {
	client.Request
	// HashKey ip_hash 使用的粘性键，为空时使用关联 ID
	HashKey string
}

// Result 调用结果
type Result struct {
	Success       bool
	Data          []byte
	Status        int
	Error         error
	Attempts      int
	TotalTime     time.Duration
	CorrelationID string
	// Instance 最后一次尝试的实例
	Instance *registry.ServiceInstance
}

// Decode 将响应体按 JSON 解析到 v
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

// Stats 运行时统计
type Stats struct {
	Strategy string `json:"strategy"`
	// Connections 在途连接数，键为 service@instance
	Connections map[string]int64 `json:"connections"`
	// Counters 轮询类策略的各服务计数
	Counters map[string]uint64 `json:"counters,omitempty"`
}

// LoadBalancer 负载均衡器，可并发使用
type LoadBalancer struct {
	cfg     Config
	source  InstanceSource
	breaker CircuitBreaker
	caller  Caller
	logger  clog.Logger

	strategy atomic.Pointer[strategyHolder]

	connMu      sync.Mutex
	connections map[string]int64

	limiters sync.Map // service -> *rate.Limiter

	calls    metrics.Counter
	duration metrics.Histogram
	inflight metrics.Gauge
	retries  metrics.Counter
}

type strategyHolder struct {
	Strategy
}

// New 创建负载均衡器，brk 为 nil 时不做熔断过滤
func New(src InstanceSource, brk CircuitBreaker, cli Caller, cfg *Config, opts ...Option) (*LoadBalancer, error) {
	if src == nil || cli == nil {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: instance source and caller are required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	lb := &LoadBalancer{
		cfg:         c,
		source:      src,
		breaker:     brk,
		caller:      cli,
		logger:      o.logger,
		connections: make(map[string]int64),
		calls:       metrics.MustCounter(o.meter, "balancer_calls_total", "负载均衡调用次数"),
		duration: metrics.MustHistogram(o.meter, "balancer_call_duration_seconds", "负载均衡调用总耗时（含重试）",
			metrics.WithUnit("s")),
		inflight: metrics.MustGauge(o.meter, "balancer_inflight", "在途调用数"),
		retries:  metrics.MustCounter(o.meter, "balancer_retries_total", "重试次数"),
	}

	strategy := o.strategy
	if strategy == nil {
		s, err := NewStrategy(c.Strategy, lb)
		if err != nil {
			return nil, err
		}
		strategy = s
	}
	lb.strategy.Store(&strategyHolder{strategy})

	lb.logger.Info("load balancer created",
		clog.String("strategy", strategy.Name()),
		clog.Int("max_retries", c.MaxRetries),
		clog.Duration("retry_delay", c.RetryDelay),
		clog.String("backoff", c.Backoff),
		clog.Bool("circuit_breaker", lb.breakerEnabled()))
	return lb, nil
}

// SetStrategy 运行时切换内置策略
func (lb *LoadBalancer) SetStrategy(name string) error {
	s, err := NewStrategy(name, lb)
	if err != nil {
		return err
	}
	old := lb.strategy.Swap(&strategyHolder{s})
	lb.logger.Info("load balancer strategy changed",
		clog.String("from", old.Name()),
		clog.String("to", s.Name()))
	return nil
}

// Strategy 当前策略
func (lb *LoadBalancer) Strategy() Strategy {
	return lb.strategy.Load().Strategy
}

// Call 选择实例并调用，失败时按配置重试
func (lb *LoadBalancer) Call(ctx context.Context, service string, req Request) *Result {
	start := time.Now()

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = client.CorrelationIDFrom(ctx)
	}
	if correlationID == "" {
		correlationID = idgen.NewCorrelationID()
	}
	req.CorrelationID = correlationID
	ctx = client.WithCorrelationID(ctx, correlationID)

	hashKey := req.HashKey
	if hashKey == "" {
		hashKey = correlationID
	}
	if req.Timeout == 0 {
		req.Timeout = lb.cfg.CallTimeout
	}

	res := &Result{CorrelationID: correlationID}
	defer func() {
		res.TotalTime = time.Since(start)
		lb.observe(ctx, service, res)
	}()

	if !lb.allow(service) {
		res.Error = xerrors.Wrapf(ErrRateLimited, "service %s", service)
		return res
	}

	var (
		lastErr   error
		selectErr error
	)
	_, _ = backoff.Retry(ctx, func() (struct{}, error) {
		inst, err := lb.pick(service, hashKey)
		if err != nil {
			selectErr = err
			return struct{}{}, backoff.Permanent(err)
		}

		res.Attempts++
		res.Instance = inst
		if res.Attempts > 1 {
			lb.retries.Inc(ctx, metrics.L(metrics.LabelService, service))
		}

		resp := lb.invoke(ctx, service, inst, req.Request)
		res.Status = resp.Status
		res.Data = resp.Data
		if resp.Success {
			res.Success = true
			return struct{}{}, nil
		}
		lastErr = resp.Error
		return struct{}{}, resp.Error
	},
		backoff.WithBackOff(lb.newBackOff()),
		backoff.WithMaxTries(uint(lb.cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			lb.logger.DebugContext(ctx, "call attempt failed, retrying",
				clog.String("service", service),
				clog.Int("attempt", res.Attempts),
				clog.Duration("backoff", next),
				clog.String("correlation_id", correlationID),
				clog.Error(err))
		}),
	)

	switch {
	case res.Success:
		res.Error = nil
	case selectErr != nil:
		res.Error = selectErr
	case lastErr != nil && res.Attempts < lb.cfg.MaxRetries && ctx.Err() != nil:
		res.Error = xerrors.Wrapf(ctx.Err(), "call %s interrupted after %d attempts: %v", service, res.Attempts, lastErr)
	default:
		res.Error = fmt.Errorf("%w: %s after %d attempts: %w", ErrAllAttemptsExhausted, service, res.Attempts, lastErr)
	}
	return res
}

// pick 取健康实例、过滤熔断并按策略选择
func (lb *LoadBalancer) pick(service, key string) (*registry.ServiceInstance, error) {
	available := lb.source.GetAvailableInstances(service)
	if len(available) == 0 {
		return nil, xerrors.Wrapf(ErrNoAvailableInstance, "service %s", service)
	}

	candidates := available
	if lb.breakerEnabled() {
		candidates = make([]*registry.ServiceInstance, 0, len(available))
		for _, inst := range available {
			if !lb.breaker.IsOpen(service, inst.ID) {
				candidates = append(candidates, inst)
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: service %s: %w", ErrNoAvailableInstance, service, ErrCircuitOpen)
		}
	}

	return lb.Strategy().Select(service, candidates, key), nil
}

func (lb *LoadBalancer) invoke(ctx context.Context, service string, inst *registry.ServiceInstance, req client.Request) *client.Response {
	key := connKey(service, inst.ID)
	labels := []metrics.Label{metrics.L(metrics.LabelService, service), metrics.L(metrics.LabelInstance, inst.ID)}

	lb.addConnection(key, 1)
	lb.inflight.Inc(ctx, labels...)
	defer func() {
		lb.addConnection(key, -1)
		lb.inflight.Dec(ctx, labels...)
	}()
	resp := lb.caller.Do(ctx, client.Target{Host: inst.Host, Port: inst.Port}, req)

	if lb.breakerEnabled() {
		if resp.Success {
			lb.breaker.RecordSuccess(service, inst.ID)
		} else {
			lb.breaker.RecordFailure(service, inst.ID)
		}
	}
	return resp
}

func (lb *LoadBalancer) newBackOff() backoff.BackOff {
	if lb.cfg.Backoff == BackoffExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = lb.cfg.RetryDelay
		b.MaxInterval = lb.cfg.MaxRetryDelay
		return b
	}
	return backoff.NewConstantBackOff(lb.cfg.RetryDelay)
}

func (lb *LoadBalancer) allow(service string) bool {
	if lb.cfg.RateLimit <= 0 {
		return true
	}
	v, ok := lb.limiters.Load(service)
	if !ok {
		v, _ = lb.limiters.LoadOrStore(service, rate.NewLimiter(rate.Limit(lb.cfg.RateLimit), lb.cfg.RateBurst))
	}
	return v.(*rate.Limiter).Allow()
}

func (lb *LoadBalancer) breakerEnabled() bool {
	return lb.breaker != nil && !lb.cfg.DisableCircuitBreaker
}

func (lb *LoadBalancer) observe(ctx context.Context, service string, res *Result) {
	outcome := metrics.OutcomeSuccess
	switch {
	case xerrors.Is(res.Error, ErrRateLimited), xerrors.Is(res.Error, ErrNoAvailableInstance):
		outcome = metrics.OutcomeRejected
	case !res.Success:
		outcome = metrics.OutcomeError
	}
	lb.calls.Inc(ctx, metrics.L(metrics.LabelService, service), metrics.L(metrics.LabelOutcome, outcome))
	lb.duration.Record(ctx, res.TotalTime.Seconds(), metrics.L(metrics.LabelService, service))

	if !res.Success {
		lb.logger.WarnContext(ctx, "load balanced call failed",
			clog.String("service", service),
			clog.Int("attempts", res.Attempts),
			clog.Duration("total_time", res.TotalTime),
			clog.String("correlation_id", res.CorrelationID),
			clog.Error(res.Error))
	}
}

func connKey(service, id string) string {
	return service + "@" + id
}

func (lb *LoadBalancer) addConnection(key string, delta int64) {
	lb.connMu.Lock()
	defer lb.connMu.Unlock()
	n := lb.connections[key] + delta
	if n <= 0 {
		delete(lb.connections, key)
		return
	}
	lb.connections[key] = n
}

// Connections 实例当前在途连接数
func (lb *LoadBalancer) Connections(service, instanceID string) int64 {
	lb.connMu.Lock()
	defer lb.connMu.Unlock()
	return lb.connections[connKey(service, instanceID)]
}

// Stats 运行时统计
func (lb *LoadBalancer) Stats() Stats {
	s := lb.Strategy()
	stats := Stats{Strategy: s.Name(), Connections: make(map[string]int64)}

	lb.connMu.Lock()
	for k, v := range lb.connections {
		stats.Connections[k] = v
	}
	lb.connMu.Unlock()

	if r, ok := s.(interface{ Counters() map[string]uint64 }); ok {
		stats.Counters = r.Counters()
	}
	return stats
}
