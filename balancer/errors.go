package balancer

import "github.com/ceyewan/meshlink/xerrors"

var (
	// ErrNoAvailableInstance 没有健康且未熔断的实例
	ErrNoAvailableInstance = xerrors.NewCoded("NO_AVAILABLE_INSTANCE", "balancer: no available instances")

	// ErrCircuitOpen 健康实例全部被熔断
	ErrCircuitOpen = xerrors.NewCoded("CIRCUIT_OPEN", "balancer: circuit open")

	// ErrAllAttemptsExhausted 重试次数用尽
	ErrAllAttemptsExhausted = xerrors.NewCoded("ALL_ATTEMPTS_EXHAUSTED", "balancer: all attempts exhausted")

	// ErrRateLimited 超过客户端限流
	ErrRateLimited = xerrors.NewCoded("RATE_LIMITED", "balancer: rate limited")
)
