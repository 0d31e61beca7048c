package config

import (
	"github.com/ceyewan/meshlink/clog"
	"github.com/ceyewan/meshlink/xerrors"
)

// DefaultEnvPrefix 默认环境变量前缀
const DefaultEnvPrefix = "MESHLINK"

// Option 配置选项
type Option func(*Options)

// Options 加载器选项
type Options struct {
	Name      string   // 配置文件名（不含扩展名）
	Paths     []string // 搜索路径
	FileType  string   // yaml、json 等
	EnvPrefix string
	// AllowEmpty 为 true 时允许没有任何配置项，组件使用各自默认值
	AllowEmpty bool
	Logger     clog.Logger
}

func defaultOptions() *Options {
	return &Options{
		Name:      "config",
		Paths:     []string{".", "./config"},
		FileType:  "yaml",
		EnvPrefix: DefaultEnvPrefix,
		Logger:    clog.Discard(),
	}
}

func (o *Options) validate() error {
	if o.Name == "" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "config name is required")
	}
	if len(o.Paths) == 0 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "at least one config path is required")
	}
	if o.FileType == "" {
		o.FileType = "yaml"
	}
	return nil
}

// WithConfigName 设置配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithConfigPath 追加搜索路径
func WithConfigPath(path string) Option {
	return func(o *Options) {
		o.Paths = append(o.Paths, path)
	}
}

// WithConfigPaths 覆盖搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(o *Options) {
		o.Paths = paths
	}
}

// WithConfigType 设置文件类型
func WithConfigType(typ string) Option {
	return func(o *Options) {
		o.FileType = typ
	}
}

// WithEnvPrefix 设置环境变量前缀
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

// WithAllowEmpty 允许空配置
func WithAllowEmpty(allow bool) Option {
	return func(o *Options) {
		o.AllowEmpty = allow
	}
}

// WithLogger 注入 Logger，自动追加 "config" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger.WithNamespace("config")
		}
	}
}
