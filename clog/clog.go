// Package clog 为 meshlink 提供基于 slog 的结构化日志组件。
//
// 各组件通过 WithLogger 选项注入 Logger，未注入时使用 Discard()。
// 命名空间以 "." 连接，例如 "meshlink.balancer"。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger.Info("instance registered", clog.String("service", "user-service"))
//
// 从 Context 中提取关联 ID：
//
//	logger, _ := clog.New(cfg, clog.WithContextField(correlationKey{}, "correlation_id"))
//	logger.InfoContext(ctx, "request dispatched")
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig("")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}

// Must 类似 New，出错时 panic，仅用于初始化阶段
func Must(config *Config, opts ...Option) Logger {
	l, err := New(config, opts...)
	if err != nil {
		panic(err)
	}
	return l
}
