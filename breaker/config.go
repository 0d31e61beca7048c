package breaker

import (
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

// Config 熔断器配置
//
// 默认按连续失败次数熔断，失败计数只在成功时清零。两种可选的衰减方式：
//   - Interval > 0：CLOSED 状态下每隔 Interval 清空计数
//   - WindowSize > 0：改为按最近 WindowSize 次调用的失败率熔断
//
// 两者同时设置时以 WindowSize 为准。
type Config struct {
	// FailureThreshold 连续失败多少次后打开，默认 5
	FailureThreshold uint32 `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`

	// Timeout 打开后多久进入半开，默认 60s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// Interval CLOSED 状态计数清零周期，0 表示不清零
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// WindowSize 滑动窗口大小，0 表示不启用
	WindowSize int `mapstructure:"window_size" yaml:"window_size" json:"window_size"`

	// FailureRatio 窗口失败率阈值，默认 0.5
	FailureRatio float64 `mapstructure:"failure_ratio" yaml:"failure_ratio" json:"failure_ratio"`

	// MinimumRequests 窗口内最少样本数，默认 WindowSize/2
	MinimumRequests int `mapstructure:"minimum_requests" yaml:"minimum_requests" json:"minimum_requests"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.WindowSize > 0 {
		if c.FailureRatio == 0 {
			c.FailureRatio = 0.5
		}
		if c.MinimumRequests == 0 {
			c.MinimumRequests = max(c.WindowSize/2, 1)
		}
	}
}

func (c *Config) validate() error {
	if c.Timeout < 0 || c.Interval < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "breaker: negative duration")
	}
	if c.WindowSize < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "breaker: negative window size")
	}
	if c.WindowSize > 0 && (c.FailureRatio <= 0 || c.FailureRatio > 1) {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "breaker: failure ratio %.2f out of (0, 1]", c.FailureRatio)
	}
	return nil
}
