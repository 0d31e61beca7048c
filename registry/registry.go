// Package registry 提供进程内的服务注册表。
//
// Registry 记录每个服务的实例列表与健康状态，并向订阅者推送变更通知。
// 注册表不做网络探测：实例自身或外部探针通过 UpdateHeartbeat /
// UpdateInstanceStatus 上报健康，Janitor 周期调用 Cleanup 清理心跳超时的实例。
//
//	reg := registry.New(registry.WithLogger(logger))
//	inst, err := reg.Register(registry.Registration{
//		ServiceName: "order",
//		Host:        "10.0.0.1",
//		Port:        8080,
//	})
//
//	cancel := reg.Subscribe("order", func(u registry.Update) { ... })
//	defer cancel()
//
// 对未知服务或实例的操作都是空操作，不返回错误。
package registry

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/idgen"
	"github.com/ceyewan/meshlink/metrics"
)

type subscription struct {
	id uint64
	fn Listener
}

// Registry 服务注册表
type Registry struct {
	mu        sync.RWMutex
	services  map[string]map[string]*ServiceInstance
	subMu     sync.RWMutex
	subs      map[string][]subscription
	nextSubID uint64

	logger clog.Logger
	now    func() time.Time
	newID  func() string

	instancesGauge metrics.Gauge
	eventsCounter  metrics.Counter
}

// New 创建注册表
func New(opts ...Option) *Registry {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
		newID:  idgen.NewUUIDV4,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Registry{
		services:       make(map[string]map[string]*ServiceInstance),
		subs:           make(map[string][]subscription),
		logger:         o.logger,
		now:            o.now,
		newID:          o.newID,
		instancesGauge: metrics.MustGauge(o.meter, "registry_instances", "当前注册的实例数"),
		eventsCounter:  metrics.MustCounter(o.meter, "registry_events_total", "注册表变更事件数"),
	}
}

// Register 注册实例，同一服务下相同 ID 的实例会被替换
func (r *Registry) Register(reg Registration) (*ServiceInstance, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}

	now := r.now()
	inst := &ServiceInstance{
		ServiceName:    reg.ServiceName,
		ID:             reg.ID,
		Host:           reg.Host,
		Port:           reg.Port,
		Version:        reg.Version,
		HealthCheckURL: reg.HealthCheckURL,
		Status:         StatusUp,
		RegisteredAt:   now,
		LastHeartbeat:  now,
	}
	if inst.ID == "" {
		inst.ID = r.newID()
	}
	if len(reg.Metadata) > 0 {
		inst.Metadata = make(map[string]string, len(reg.Metadata))
		for k, v := range reg.Metadata {
			inst.Metadata[k] = v
		}
	}

	r.mu.Lock()
	instances, ok := r.services[inst.ServiceName]
	if !ok {
		instances = make(map[string]*ServiceInstance)
		r.services[inst.ServiceName] = instances
	}
	_, replaced := instances[inst.ID]
	instances[inst.ID] = inst
	count := len(instances)
	snapshot := *inst.clone()
	r.mu.Unlock()

	r.logger.Info("service instance registered",
		clog.String("service", inst.ServiceName),
		clog.String("instance_id", inst.ID),
		clog.String("address", inst.Address()),
		clog.Bool("replaced", replaced))

	r.recordCount(inst.ServiceName, count)
	r.notify(Registered{Instance: snapshot})
	return inst.clone(), nil
}

// Deregister 注销实例，服务下没有实例时删除服务条目
func (r *Registry) Deregister(service, id string) {
	r.mu.Lock()
	instances, ok := r.services[service]
	if !ok {
		r.mu.Unlock()
		return
	}
	inst, ok := instances[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(instances, id)
	count := len(instances)
	if count == 0 {
		delete(r.services, service)
	}
	snapshot := *inst.clone()
	r.mu.Unlock()

	r.logger.Info("service instance deregistered",
		clog.String("service", service),
		clog.String("instance_id", id))

	r.recordCount(service, count)
	r.notify(Deregistered{Instance: snapshot})
}

// GetInstances 返回服务的全部实例副本，按 ID 排序
func (r *Registry) GetInstances(service string) []*ServiceInstance {
	return r.collect(service, func(*ServiceInstance) bool { return true })
}

// GetAvailableInstances 返回状态为 UP 的实例副本，按 ID 排序
func (r *Registry) GetAvailableInstances(service string) []*ServiceInstance {
	return r.collect(service, (*ServiceInstance).Available)
}

func (r *Registry) collect(service string, keep func(*ServiceInstance) bool) []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := r.services[service]
	out := make([]*ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if keep(inst) {
			out = append(out, inst.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetInstance 按 ID 查询实例
func (r *Registry) GetInstance(service, id string) (*ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.services[service][id]
	if !ok {
		return nil, false
	}
	return inst.clone(), true
}

// UpdateInstanceStatus 更新实例状态并刷新心跳
func (r *Registry) UpdateInstanceStatus(service, id string, status Status) {
	if !status.Valid() {
		r.logger.Warn("ignoring unknown instance status",
			clog.String("service", service),
			clog.String("instance_id", id),
			clog.String("status", string(status)))
		return
	}

	r.mu.Lock()
	inst, ok := r.services[service][id]
	if !ok {
		r.mu.Unlock()
		return
	}
	old := inst.Status
	inst.Status = status
	inst.LastHeartbeat = r.now()
	snapshot := *inst.clone()
	r.mu.Unlock()

	if old != status {
		r.logger.Info("service instance status changed",
			clog.String("service", service),
			clog.String("instance_id", id),
			clog.String("old", string(old)),
			clog.String("new", string(status)))
	}
	r.notify(StatusChanged{Instance: snapshot, Old: old, New: status})
}

// UpdateHeartbeat 刷新心跳，DOWN 的实例自动恢复为 UP
func (r *Registry) UpdateHeartbeat(service, id string) {
	r.mu.Lock()
	inst, ok := r.services[service][id]
	if !ok {
		r.mu.Unlock()
		return
	}
	inst.LastHeartbeat = r.now()
	healed := inst.Status == StatusDown
	if healed {
		inst.Status = StatusUp
	}
	snapshot := *inst.clone()
	r.mu.Unlock()

	if healed {
		r.logger.Info("service instance recovered by heartbeat",
			clog.String("service", service),
			clog.String("instance_id", id))
		r.notify(StatusChanged{Instance: snapshot, Old: StatusDown, New: StatusUp})
	}
}

// Subscribe 订阅服务变更，返回取消函数
//
// 同一事件按订阅顺序同步投递给所有订阅者。
func (r *Registry) Subscribe(service string, fn Listener) func() {
	r.subMu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subs[service] = append(r.subs[service], subscription{id: id, fn: fn})
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			subs := r.subs[service]
			for i, s := range subs {
				if s.id == id {
					r.subs[service] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(r.subs[service]) == 0 {
				delete(r.subs, service)
			}
		})
	}
}

// Cleanup 移除心跳超过 timeout 的实例，返回移除总数
//
// 每个受影响的服务收到一条 Cleaned 通知。
func (r *Registry) Cleanup(timeout time.Duration) int {
	if timeout < 0 {
		r.logger.Warn("cleanup skipped, negative timeout", clog.Duration("timeout", timeout))
		return 0
	}
	now := r.now()
	removed := make(map[string]int)
	remaining := make(map[string]int)

	r.mu.Lock()
	for service, instances := range r.services {
		for id, inst := range instances {
			if now.Sub(inst.LastHeartbeat) > timeout {
				delete(instances, id)
				removed[service]++
			}
		}
		if removed[service] > 0 {
			remaining[service] = len(instances)
		}
		if len(instances) == 0 {
			delete(r.services, service)
		}
	}
	r.mu.Unlock()

	total := 0
	services := make([]string, 0, len(removed))
	for service := range removed {
		services = append(services, service)
	}
	sort.Strings(services)
	for _, service := range services {
		count := removed[service]
		total += count
		r.logger.Warn("removed stale service instances",
			clog.String("service", service),
			clog.Int("count", count),
			clog.Duration("timeout", timeout))
		r.recordCount(service, remaining[service])
		r.notify(Cleaned{ServiceName: service, Count: count})
	}
	return total
}

// FindServices 按模式查找服务名
//
// 模式包含 * ? [ 时按 path.Match 匹配，否则做大小写不敏感的子串匹配。
func (r *Registry) FindServices(pattern string) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	glob := strings.ContainsAny(pattern, "*?[")
	lower := strings.ToLower(pattern)

	out := make([]string, 0, len(names))
	for _, name := range names {
		if glob {
			if ok, err := path.Match(lower, strings.ToLower(name)); err == nil && ok {
				out = append(out, name)
			}
			continue
		}
		if strings.Contains(strings.ToLower(name), lower) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// GetAllServices 返回所有服务概览，按名称排序
func (r *Registry) GetAllServices() []ServiceSummary {
	r.mu.RLock()
	out := make([]ServiceSummary, 0, len(r.services))
	for name, instances := range r.services {
		s := ServiceSummary{Name: name, Instances: len(instances), Status: StatusDown}
		for _, inst := range instances {
			if inst.Available() {
				s.AvailableInstances++
			}
		}
		if s.AvailableInstances > 0 {
			s.Status = StatusUp
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// notify 在锁外按订阅顺序投递
func (r *Registry) notify(u Update) {
	r.eventsCounter.Inc(context.Background(),
		metrics.L(metrics.LabelService, u.Service()),
		metrics.L(metrics.LabelEvent, u.Kind()))

	r.subMu.RLock()
	subs := make([]subscription, len(r.subs[u.Service()]))
	copy(subs, r.subs[u.Service()])
	r.subMu.RUnlock()

	for _, s := range subs {
		r.deliver(s.fn, u)
	}
}

func (r *Registry) deliver(fn Listener, u Update) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("registry listener panicked",
				clog.String("service", u.Service()),
				clog.String("event", u.Kind()),
				clog.Any("panic", p))
		}
	}()
	fn(u)
}

func (r *Registry) recordCount(service string, count int) {
	r.instancesGauge.Set(context.Background(), float64(count), metrics.L(metrics.LabelService, service))
}
