package eventbus

import (
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

// Config 本地事件总线配置
type Config struct {
	// MaxHistory 保留的事件记录数，0 表示不限
	MaxHistory int `mapstructure:"max_history" yaml:"max_history" json:"max_history"`

	// MaxConcurrency 单个事件同时执行的处理器数，0 表示不限
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency" json:"max_concurrency"`

	// HandlerTimeout 传给处理器的 ctx 超时，0 表示不设置
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout" json:"handler_timeout"`
}

// Normalize 校验配置
func (c *Config) Normalize() error {
	if c.MaxHistory < 0 || c.MaxConcurrency < 0 || c.HandlerTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "eventbus config must not be negative")
	}
	return nil
}
