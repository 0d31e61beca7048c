// Package config 为 meshlink 提供配置加载能力，基于 Viper 实现。
//
// 优先级从高到低：环境变量 > .env > 环境特定配置文件 > 基础配置文件。
// 环境变量使用 MESHLINK_ 前缀，层级分隔符 "." 替换为 "_"，例如
// MESHLINK_BALANCER_MAX_RETRIES 覆盖 balancer.max_retries。
//
//	loader := config.MustLoad(context.Background(),
//		config.WithConfigName("meshd"),
//		config.WithConfigPaths("./configs"),
//	)
//
//	var cfg mesh.Config
//	if err := loader.Unmarshal(&cfg); err != nil {
//		panic(err)
//	}
//
//	ch, _ := loader.Watch(ctx, "balancer.strategy")
//	for ev := range ch {
//		logger.Info("config changed", clog.String("key", ev.Key), clog.Any("value", ev.Value))
//	}
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 读取所有来源并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 key 反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 校验当前配置
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}

// New 创建未加载的 Loader
func New(opts ...Option) (Loader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return newLoader(o), nil
}

// Load 创建 Loader 并立即加载
func Load(ctx context.Context, opts ...Option) (Loader, error) {
	l, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// MustLoad 类似 Load，出错时 panic
func MustLoad(ctx context.Context, opts ...Option) Loader {
	l, err := Load(ctx, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
