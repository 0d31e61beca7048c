package pubsub

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/meshlink/xerrors"
)

// 传输层类型
const (
	TransportMemory = "memory"
	TransportNATS   = "nats"
	TransportRedis  = "redis"
)

// Config 异步通信配置
type Config struct {
	// Transport memory / nats / redis，默认 memory
	Transport string `mapstructure:"transport" yaml:"transport" json:"transport"`

	// Codec json / msgpack，默认 json
	Codec string `mapstructure:"codec" yaml:"codec" json:"codec"`

	// Sender 发布消息时填入的发送方
	Sender string `mapstructure:"sender" yaml:"sender" json:"sender"`

	// AckTimeout PublishWithAck 未指定超时时使用，默认 5s
	AckTimeout time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout" json:"ack_timeout"`

	// AutoAck 处理器全部成功后自动回复确认
	AutoAck bool `mapstructure:"auto_ack" yaml:"auto_ack" json:"auto_ack"`

	NATS  NATSConfig  `mapstructure:"nats" yaml:"nats" json:"nats"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`
}

// NATSConfig NATS 连接配置
type NATSConfig struct {
	URL string `mapstructure:"url" yaml:"url" json:"url"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs" yaml:"addrs" json:"addrs"`
	Password string   `mapstructure:"password" yaml:"password" json:"password"`
	DB       int      `mapstructure:"db" yaml:"db" json:"db"`
}

func (c *Config) setDefaults() {
	if c.Transport == "" {
		c.Transport = TransportMemory
	}
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = []string{"127.0.0.1:6379"}
	}
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportMemory, TransportNATS, TransportRedis:
	default:
		return xerrors.Wrapf(ErrUnsupportedTransport, "transport %q", c.Transport)
	}
	if _, err := CodecByName(c.Codec); err != nil {
		return err
	}
	if c.AckTimeout < 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "ack_timeout must not be negative")
	}
	return nil
}

// Normalize 填充默认值并校验
func (c *Config) Normalize() error {
	c.setDefaults()
	return c.validate()
}

// NewTransport 按配置创建传输层，返回的传输层拥有自己的连接
func NewTransport(cfg *Config) (Transport, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case TransportNATS:
		return DialNATS(cfg.NATS.URL)
	case TransportRedis:
		return DialRedis(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	default:
		return NewMemoryTransport(), nil
	}
}
