package client

import (
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

// Config 客户端配置
type Config struct {
	// Timeout 默认单次调用超时，默认 5s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	// Scheme http 或 https，默认 http
	Scheme              string        `mapstructure:"scheme" yaml:"scheme" json:"scheme"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Timeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: negative timeout")
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "client: unsupported scheme %q", c.Scheme)
	}
	return nil
}
