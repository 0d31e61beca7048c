package registry

import (
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

// Config 心跳清理配置
type Config struct {
	// HeartbeatTimeout 心跳超时，超过后实例被清理，0 表示默认 30s，不能为负
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout" json:"heartbeat_timeout"`

	// CleanupInterval 清理周期，默认 10s；小于 0 表示不启动清理
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
}

func (c *Config) setDefaults() {
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 10 * time.Second
	}
}

// Normalize 填充默认值并校验
func (c *Config) Normalize() error {
	if c.HeartbeatTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "registry: negative heartbeat timeout %s", c.HeartbeatTimeout)
	}
	c.setDefaults()
	return nil
}
