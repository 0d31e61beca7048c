package registry

// Update 注册表变更通知
//
// 取值只有 Registered、Deregistered、StatusChanged、Cleaned 四种，
// 订阅方用 type switch 分支处理：
//
//	switch u := upd.(type) {
//	case registry.Registered:
//	case registry.Deregistered:
//	case registry.StatusChanged:
//	case registry.Cleaned:
//	}
type Update interface {
	// Service 通知所属服务
	Service() string
	// Kind 事件名，用于日志与指标
	Kind() string

	update()
}

// Registered 实例注册或替换
type Registered struct {
	Instance ServiceInstance
}

// Deregistered 实例注销
type Deregistered struct {
	Instance ServiceInstance
}

// StatusChanged 实例状态变化，Old 与 New 可能相同
type StatusChanged struct {
	Instance ServiceInstance
	Old      Status
	New      Status
}

// Cleaned 心跳超时清理，Count 为该服务被移除的实例数
type Cleaned struct {
	ServiceName string
	Count       int
}

func (u Registered) Service() string    { return u.Instance.ServiceName }
func (u Deregistered) Service() string  { return u.Instance.ServiceName }
func (u StatusChanged) Service() string { return u.Instance.ServiceName }
func (u Cleaned) Service() string       { return u.ServiceName }

func (Registered) Kind() string    { return "SERVICE_REGISTERED" }
func (Deregistered) Kind() string  { return "SERVICE_DEREGISTERED" }
func (StatusChanged) Kind() string { return "SERVICE_STATUS_CHANGED" }
func (Cleaned) Kind() string       { return "SERVICES_CLEANED" }

func (Registered) update()    {}
func (Deregistered) update()  {}
func (StatusChanged) update() {}
func (Cleaned) update()       {}

// Listener 变更回调，在注册表锁外同步调用
type Listener func(Update)
