package registry

import (
	"sort"
	"strings"
	"sync"

	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/meshlink/clog"
)

// Scheme gRPC 解析器 scheme，目标写作 mesh:///<service>
const Scheme = "mesh"

type instanceIDKey struct{}

// InstanceIDFromAddress 取出解析地址携带的实例 ID
func InstanceIDFromAddress(addr resolver.Address) string {
	if addr.Attributes == nil {
		return ""
	}
	id, _ := addr.Attributes.Value(instanceIDKey{}).(string)
	return id
}

// ResolverBuilder 返回基于注册表的 gRPC resolver.Builder
//
//	conn, err := grpc.NewClient("mesh:///order",
//		grpc.WithResolvers(reg.ResolverBuilder()),
//		grpc.WithTransportCredentials(insecure.NewCredentials()))
func (r *Registry) ResolverBuilder() resolver.Builder {
	return &resolverBuilder{registry: r}
}

type resolverBuilder struct {
	registry *Registry
}

func (b *resolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	service := strings.TrimPrefix(target.Endpoint(), "/")

	res := &meshResolver{
		registry: b.registry,
		service:  service,
		cc:       cc,
	}
	res.cancel = b.registry.Subscribe(service, func(Update) { res.push() })
	res.push()
	return res, nil
}

func (b *resolverBuilder) Scheme() string {
	return Scheme
}

// meshResolver 每次注册表变更都全量推送可用实例
type meshResolver struct {
	registry *Registry
	service  string
	cc       resolver.ClientConn
	cancel   func()

	mu     sync.Mutex
	closed bool
}

func (r *meshResolver) push() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	instances := r.registry.GetAvailableInstances(r.service)
	// 没有可用实例时保留旧地址，避免连接被全部断开
	if len(instances) == 0 {
		r.registry.logger.Warn("no available instances for resolver",
			clog.String("service", r.service))
		return
	}

	addrs := make([]resolver.Address, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, resolver.Address{
			Addr:       inst.Address(),
			ServerName: inst.ServiceName,
			Attributes: attributes.New(instanceIDKey{}, inst.ID),
		})
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Addr < addrs[j].Addr })

	if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
		r.registry.logger.Warn("resolver update state failed",
			clog.String("service", r.service),
			clog.Error(err))
	}
}

func (r *meshResolver) ResolveNow(resolver.ResolveNowOptions) {
	r.push()
}

func (r *meshResolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
}
