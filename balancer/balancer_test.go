package balancer

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/meshlink/breaker"
	"github.com/ceyewan/meshlink/client"
	"github.com/ceyewan/meshlink/registry"
	"github.com/ceyewan/meshlink/testkit"
	"github.com/ceyewan/meshlink/xerrors"
)

type call struct {
	port          int
	correlationID string
}

// fakeCaller 按端口决定成败，可选阻塞直到 release 关闭
type fakeCaller struct {
	mu      sync.Mutex
	calls   []call
	failing map[int]bool
	started chan int
	release chan struct{}
}

func newFakeCaller(failingPorts ...int) *fakeCaller {
	f := &fakeCaller{failing: map[int]bool{}}
	for _, p := range failingPorts {
		f.failing[p] = true
	}
	return f
}

func (f *fakeCaller) Do(ctx context.Context, target client.Target, req client.Request) *client.Response {
	f.mu.Lock()
	f.calls = append(f.calls, call{port: target.Port, correlationID: req.CorrelationID})
	failing := f.failing[target.Port]
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- target.Port
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	if failing {
		return &client.Response{Status: http.StatusInternalServerError, Error: xerrors.Wrapf(client.ErrRequestFailed, "status 500")}
	}
	return &client.Response{Success: true, Status: http.StatusOK, Data: []byte(`{"port":` + strconv.Itoa(target.Port) + `}`)}
}

func (f *fakeCaller) ports() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.port
	}
	return out
}

func newRegistry(t *testing.T, ports ...int) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for i, p := range ports {
		_, err := reg.Register(registry.Registration{
			ServiceName: "order",
			ID:          string(rune('a' + i)),
			Host:        "127.0.0.1",
			Port:        p,
		})
		require.NoError(t, err)
	}
	return reg
}

func newBreaker(t *testing.T, threshold uint32) *breaker.Manager {
	t.Helper()
	m, err := breaker.New(&breaker.Config{FailureThreshold: threshold, Timeout: time.Hour})
	require.NoError(t, err)
	return m
}

func newLB(t *testing.T, reg InstanceSource, brk CircuitBreaker, caller Caller, cfg *Config) *LoadBalancer {
	t.Helper()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	lb, err := New(reg, brk, caller, cfg)
	require.NoError(t, err)
	return lb
}

func get(path string) Request {
	return Request{Request: client.Request{Method: http.MethodGet, Path: path}}
}

func TestNew_Validation(t *testing.T) {
	reg := registry.New()
	_, err := New(nil, nil, newFakeCaller(), nil)
	assert.Error(t, err)
	_, err = New(reg, nil, newFakeCaller(), &Config{Strategy: "nope"})
	assert.Error(t, err)
	_, err = New(reg, nil, newFakeCaller(), &Config{MaxRetries: -1})
	assert.Error(t, err)
	_, err = New(reg, nil, newFakeCaller(), &Config{Backoff: "linear"})
	assert.Error(t, err)

	lb, err := New(reg, nil, newFakeCaller(), nil)
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, lb.Strategy().Name())
	assert.Equal(t, 3, lb.cfg.MaxRetries)
	assert.Equal(t, time.Second, lb.cfg.RetryDelay)
}

type panicCaller struct{}

func (panicCaller) Do(context.Context, client.Target, client.Request) *client.Response {
	panic("transport bug")
}

func TestCall_ConnectionReleasedWhenCallerPanics(t *testing.T) {
	lb := newLB(t, newRegistry(t, 9001), nil, panicCaller{}, &Config{})

	assert.Panics(t, func() {
		lb.Call(context.Background(), "order", get("/x"))
	})
	assert.Zero(t, lb.Connections("order", "a"))
}

func TestCall_Success(t *testing.T) {
	caller := newFakeCaller()
	lb := newLB(t, newRegistry(t, 9001), newBreaker(t, 5), caller, &Config{})

	res := lb.Call(context.Background(), "order", get("/orders/1"))
	require.True(t, res.Success, "%v", res.Error)
	assert.NoError(t, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "a", res.Instance.ID)
	assert.NotEmpty(t, res.CorrelationID)

	var body map[string]int
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, 9001, body["port"])
}

func TestCall_RoundRobinFairness(t *testing.T) {
	caller := newFakeCaller()
	lb := newLB(t, newRegistry(t, 9001, 9002, 9003), nil, caller, &Config{})

	const k = 5
	for i := 0; i < 3*k; i++ {
		require.True(t, lb.Call(context.Background(), "order", get("/")).Success)
	}

	counts := map[int]int{}
	for _, p := range caller.ports() {
		counts[p]++
	}
	assert.Equal(t, map[int]int{9001: k, 9002: k, 9003: k}, counts)
	assert.Equal(t, uint64(3*k), lb.Stats().Counters["order"])
}

func TestCall_RetriesExhausted(t *testing.T) {
	caller := newFakeCaller(9001)
	lb := newLB(t, newRegistry(t, 9001), newBreaker(t, 100), caller, &Config{MaxRetries: 3})

	res := lb.Call(context.Background(), "order", get("/"))
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.ErrorIs(t, res.Error, ErrAllAttemptsExhausted)
	assert.ErrorIs(t, res.Error, client.ErrRequestFailed)
	assert.Positive(t, res.TotalTime)
	assert.Len(t, caller.ports(), 3)

	// 所有尝试共用同一个关联 ID
	caller.mu.Lock()
	for _, c := range caller.calls {
		assert.Equal(t, res.CorrelationID, c.correlationID)
	}
	caller.mu.Unlock()
}

func TestCall_NoInstancesFailsImmediately(t *testing.T) {
	caller := newFakeCaller()
	lb := newLB(t, registry.New(), newBreaker(t, 5), caller, &Config{RetryDelay: time.Hour})

	start := time.Now()
	res := lb.Call(context.Background(), "order", get("/"))
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	assert.ErrorIs(t, res.Error, ErrNoAvailableInstance)
	assert.Empty(t, caller.ports())
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_OnlyUpInstances(t *testing.T) {
	reg := newRegistry(t, 9001, 9002)
	reg.UpdateInstanceStatus("order", "a", registry.StatusDown)

	caller := newFakeCaller()
	lb := newLB(t, reg, nil, caller, &Config{})
	for i := 0; i < 4; i++ {
		lb.Call(context.Background(), "order", get("/"))
	}
	assert.Equal(t, []int{9002, 9002, 9002, 9002}, caller.ports())
}

func TestCall_RetryReselects(t *testing.T) {
	caller := newFakeCaller(9001)
	lb := newLB(t, newRegistry(t, 9001, 9002), newBreaker(t, 5), caller, &Config{})

	res := lb.Call(context.Background(), "order", get("/"))
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "b", res.Instance.ID)
	assert.Equal(t, []int{9001, 9002}, caller.ports())
}

func TestCall_BreakerFiltersOpenInstances(t *testing.T) {
	caller := newFakeCaller(9001)
	brk := newBreaker(t, 1)
	lb := newLB(t, newRegistry(t, 9001, 9002), brk, caller, &Config{})

	res := lb.Call(context.Background(), "order", get("/"))
	require.True(t, res.Success)
	assert.True(t, brk.IsOpen("order", "a"))

	for i := 0; i < 5; i++ {
		res = lb.Call(context.Background(), "order", get("/"))
		require.True(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, "b", res.Instance.ID)
	}
}

func TestCall_AllBreakersOpen(t *testing.T) {
	caller := newFakeCaller()
	brk := newBreaker(t, 1)
	brk.RecordFailure("order", "a")
	brk.RecordFailure("order", "b")

	lb := newLB(t, newRegistry(t, 9001, 9002), brk, caller, &Config{})
	res := lb.Call(context.Background(), "order", get("/"))
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Attempts)
	assert.ErrorIs(t, res.Error, ErrNoAvailableInstance)
	assert.ErrorIs(t, res.Error, ErrCircuitOpen)
	assert.Empty(t, caller.ports())

	// 关闭熔断过滤后照常调用
	lb = newLB(t, newRegistry(t, 9001, 9002), brk, caller, &Config{DisableCircuitBreaker: true})
	assert.True(t, lb.Call(context.Background(), "order", get("/")).Success)
}

func TestCall_LeastConnectionsTracksInflight(t *testing.T) {
	caller := newFakeCaller()
	caller.started = make(chan int, 4)
	caller.release = make(chan struct{})

	lb := newLB(t, newRegistry(t, 9001, 9002), nil, caller, &Config{Strategy: LeastConnections})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = lb.Call(context.Background(), "order", get("/"))
		}(i)
		<-caller.started
	}

	assert.Equal(t, int64(1), lb.Connections("order", "a"))
	assert.Equal(t, int64(1), lb.Connections("order", "b"))
	assert.Len(t, lb.Stats().Connections, 2)

	close(caller.release)
	wg.Wait()

	assert.ElementsMatch(t, []string{"a", "b"}, []string{results[0].Instance.ID, results[1].Instance.ID})
	assert.Equal(t, int64(0), lb.Connections("order", "a"))
	assert.Empty(t, lb.Stats().Connections)
}

func TestCall_RateLimit(t *testing.T) {
	caller := newFakeCaller()
	lb := newLB(t, newRegistry(t, 9001), nil, caller, &Config{RateLimit: 1, RateBurst: 1})

	assert.True(t, lb.Call(context.Background(), "order", get("/")).Success)
	res := lb.Call(context.Background(), "order", get("/"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrRateLimited)
	assert.Equal(t, 0, res.Attempts)
	assert.Len(t, caller.ports(), 1)
}

func TestCall_ContextCancelDuringBackoff(t *testing.T) {
	caller := newFakeCaller(9001)
	lb := newLB(t, newRegistry(t, 9001), nil, caller, &Config{MaxRetries: 5, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := lb.Call(ctx, "order", get("/"))
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Error, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_IPHashSticky(t *testing.T) {
	caller := newFakeCaller()
	lb := newLB(t, newRegistry(t, 9001, 9002, 9003), nil, caller, &Config{Strategy: IPHash})

	first := lb.Call(context.Background(), "order", Request{Request: client.Request{Path: "/"}, HashKey: "10.1.1.1"})
	for i := 0; i < 5; i++ {
		res := lb.Call(context.Background(), "order", Request{Request: client.Request{Path: "/"}, HashKey: "10.1.1.1"})
		assert.Equal(t, first.Instance.ID, res.Instance.ID)
	}
}

func TestSetStrategy(t *testing.T) {
	lb := newLB(t, newRegistry(t, 9001), nil, newFakeCaller(), &Config{})
	require.NoError(t, lb.SetStrategy(WeightedRandom))
	assert.Equal(t, WeightedRandom, lb.Stats().Strategy)
	assert.Error(t, lb.SetStrategy("bogus"))
	assert.Equal(t, WeightedRandom, lb.Strategy().Name())
}

func TestNewBackOff(t *testing.T) {
	lb := newLB(t, registry.New(), nil, newFakeCaller(), &Config{RetryDelay: 100 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, lb.newBackOff().NextBackOff())

	lb = newLB(t, registry.New(), nil, newFakeCaller(), &Config{
		Backoff:       BackoffExponential,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 40 * time.Millisecond,
	})
	b, ok := lb.newBackOff().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 40*time.Millisecond, b.MaxInterval)
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, b.NextBackOff(), 60*time.Millisecond)
	}
}

func TestCall_HTTPUpstreams(t *testing.T) {
	upstream := func(status int) *testkit.Upstream {
		return testkit.NewUpstream(t, func(r *gin.Engine) {
			r.GET("/orders/:id", func(c *gin.Context) {
				c.JSON(status, gin.H{"id": c.Param("id"), "correlation": c.GetHeader(client.HeaderCorrelationID)})
			})
		})
	}
	bad := upstream(http.StatusInternalServerError)
	good := upstream(http.StatusOK)

	reg := registry.New()
	_, err := reg.Register(registry.Registration{ServiceName: "order", ID: "a", Host: bad.Host, Port: bad.Port})
	require.NoError(t, err)
	_, err = reg.Register(registry.Registration{ServiceName: "order", ID: "b", Host: good.Host, Port: good.Port})
	require.NoError(t, err)

	cli, err := client.New(&client.Config{Timeout: time.Second})
	require.NoError(t, err)
	lb := newLB(t, reg, newBreaker(t, 5), cli, &Config{})

	ctx := client.WithCorrelationID(context.Background(), "trace-42")
	res := lb.Call(ctx, "order", get("/orders/7"))
	require.True(t, res.Success, "%v", res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "trace-42", res.CorrelationID)

	var body map[string]string
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "7", body["id"])
	assert.Equal(t, "trace-42", body["correlation"])
}
