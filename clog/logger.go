package clog

import "context"

// Logger 结构化日志接口
//
// 子 Logger：
//
//	l := logger.With(clog.String("service", "order"))
//	l = l.WithNamespace("balancer")
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// 带 Context 的版本会按 WithContextField 配置提取字段
	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 追加命名空间，例如 "meshlink" + "registry" -> "meshlink.registry"
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整日志级别，对共享同一 handler 的子 Logger 同时生效
	SetLevel(level Level) error
}
