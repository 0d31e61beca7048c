package balancer

import (
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

// 退避策略
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config 负载均衡配置
type Config struct {
	// Strategy 选择策略，默认 round_robin
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`

	// MaxRetries 单次 Call 的最大尝试次数（含首次），默认 3
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`

	// RetryDelay 重试间隔，exponential 模式下为初始间隔，默认 1s
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`

	// Backoff fixed 或 exponential，默认 fixed
	Backoff string `mapstructure:"backoff" yaml:"backoff" json:"backoff"`

	// MaxRetryDelay exponential 模式的间隔上限，默认 10s
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay" json:"max_retry_delay"`

	// CallTimeout 单次尝试超时，0 表示沿用 client 默认值
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" json:"call_timeout"`

	// DisableCircuitBreaker 关闭熔断过滤
	DisableCircuitBreaker bool `mapstructure:"disable_circuit_breaker" yaml:"disable_circuit_breaker" json:"disable_circuit_breaker"`

	// RateLimit 每个服务每秒允许的 Call 数，0 表示不限流
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`

	// RateBurst 限流突发容量，默认等于 max(1, RateLimit)
	RateBurst int `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
}

func (c *Config) setDefaults() {
	if c.Strategy == "" {
		c.Strategy = RoundRobin
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.Backoff == "" {
		c.Backoff = BackoffFixed
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 10 * time.Second
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		c.RateBurst = max(1, int(c.RateLimit))
	}
}

func (c *Config) validate() error {
	if c.MaxRetries < 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 || c.CallTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: negative duration")
	}
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: unknown backoff %q", c.Backoff)
	}
	if c.RateLimit < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "balancer: negative rate limit")
	}
	return nil
}
