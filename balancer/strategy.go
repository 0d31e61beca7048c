package balancer

import (
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/xerrors"
)

// 内置策略名
const (
	RoundRobin         = "round_robin"
	LeastConnections   = "least_connections"
	Random             = "random"
	WeightedRoundRobin = "weighted_round_robin"
	WeightedRandom     = "weighted_random"
	IPHash             = "ip_hash"
)

// Strategy 实例选择策略
//
// instances 只包含健康且未熔断的实例，非空；key 为调用方提供的粘性键。
type Strategy interface {
	Name() string
	Select(service string, instances []*registry.ServiceInstance, key string) *registry.ServiceInstance
}

// ConnectionCounter 提供实例的在途连接数
type ConnectionCounter interface {
	Connections(service, instanceID string) int64
}

// NewStrategy 按名称创建内置策略，least_connections 需要 counter
func NewStrategy(name string, counter ConnectionCounter) (Strategy, error) {
	switch name {
	case RoundRobin:
		return newRoundRobin(), nil
	case LeastConnections:
		if counter == nil {
			return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: %s requires a connection counter", name)
		}
		return &leastConnections{counter: counter}, nil
	case Random:
		return randomStrategy{}, nil
	case WeightedRoundRobin:
		return newWeightedRoundRobin(), nil
	case WeightedRandom:
		return weightedRandom{}, nil
	case IPHash:
		return ipHash{}, nil
	}
	return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: unknown strategy %q", name)
}

// rotation 按服务维护单调递增计数
type rotation struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func (r *rotation) next(service string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]uint64)
	}
	n := r.counters[service]
	r.counters[service] = n + 1
	return n
}

// Counters 各服务当前计数
func (r *rotation) Counters() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// roundRobin 计数对当前列表长度取模，列表变化后可能重复或跳过一个实例
type roundRobin struct {
	rotation
}

func newRoundRobin() *roundRobin { return &roundRobin{} }

func (*roundRobin) Name() string { return RoundRobin }

func (s *roundRobin) Select(service string, instances []*registry.ServiceInstance, _ string) *registry.ServiceInstance {
	n := s.next(service)
	return instances[n%uint64(len(instances))]
}

// leastConnections 在途连接最少者胜出，相同时取列表靠前者
type leastConnections struct {
	counter ConnectionCounter
}

func (*leastConnections) Name() string { return LeastConnections }

func (s *leastConnections) Select(service string, instances []*registry.ServiceInstance, _ string) *registry.ServiceInstance {
	best := instances[0]
	bestConns := s.counter.Connections(service, best.ID)
	for _, inst := range instances[1:] {
		if c := s.counter.Connections(service, inst.ID); c < bestConns {
			best, bestConns = inst, c
		}
	}
	return best
}

type randomStrategy struct{}

func (randomStrategy) Name() string { return Random }

func (randomStrategy) Select(_ string, instances []*registry.ServiceInstance, _ string) *registry.ServiceInstance {
	return instances[rand.IntN(len(instances))]
}

// pickByWeight 用累计权重减法定位 v 落在哪个实例
func pickByWeight(instances []*registry.ServiceInstance, v float64) *registry.ServiceInstance {
	for _, inst := range instances {
		v -= inst.Weight()
		if v < 0 {
			return inst
		}
	}
	return instances[len(instances)-1]
}

func totalWeight(instances []*registry.ServiceInstance) float64 {
	var total float64
	for _, inst := range instances {
		total += inst.Weight()
	}
	return total
}

// weightedRoundRobin 平滑加权轮询：每次选择时各实例当前值加上自身权重，
// 取最大者并减去总权重。份额对任意正权重（含小数）都与权重成比例，且选择分散。
type weightedRoundRobin struct {
	rotation

	mu      sync.Mutex
	current map[string]map[string]float64 // service -> instance ID -> 当前值
}

func newWeightedRoundRobin() *weightedRoundRobin {
	return &weightedRoundRobin{current: make(map[string]map[string]float64)}
}

func (*weightedRoundRobin) Name() string { return WeightedRoundRobin }

func (s *weightedRoundRobin) Select(service string, instances []*registry.ServiceInstance, _ string) *registry.ServiceInstance {
	s.next(service)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.current[service]
	if !ok {
		cur = make(map[string]float64, len(instances))
		s.current[service] = cur
	}

	var (
		best  *registry.ServiceInstance
		total float64
	)
	live := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		w := inst.Weight()
		total += w
		cur[inst.ID] += w
		live[inst.ID] = struct{}{}
		if best == nil || cur[inst.ID] > cur[best.ID] {
			best = inst
		}
	}
	cur[best.ID] -= total

	// 已下线的实例不再保留状态
	for id := range cur {
		if _, ok := live[id]; !ok {
			delete(cur, id)
		}
	}
	return best
}

type weightedRandom struct{}

func (weightedRandom) Name() string { return WeightedRandom }

func (weightedRandom) Select(_ string, instances []*registry.ServiceInstance, _ string) *registry.ServiceInstance {
	total := totalWeight(instances)
	return pickByWeight(instances, rand.Float64()*total)
}

// ipHash 相同 key 在实例列表不变时总是命中同一实例
type ipHash struct{}

func (ipHash) Name() string { return IPHash }

func (ipHash) Select(_ string, instances []*registry.ServiceInstance, key string) *registry.ServiceInstance {
	return instances[xxhash.Sum64String(key)%uint64(len(instances))]
}
