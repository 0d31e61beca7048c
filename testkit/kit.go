// Package testkit 提供测试公共依赖：日志、指标、假上游和可选的外部 broker。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  NewMeter(t),
	}
}

// NewLogger 返回一个用于测试的 logger
// 设置 MESHLINK_TEST_LOG=1 时输出 debug 日志，否则丢弃
func NewLogger() clog.Logger {
	if getenv("MESHLINK_TEST_LOG", "") == "" {
		return clog.Discard()
	}
	logger, err := clog.New(clog.NewDevDefaultConfig("meshlink"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个真实收集但不监听端口的 meter，测试结束时关闭
func NewMeter(t *testing.T) metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("test"))
	if err != nil {
		return metrics.Discard()
	}
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
// 用于生成唯一的服务名、通道名，避免测试间冲突
func NewID() string {
	return uuid.New().String()[0:8]
}
