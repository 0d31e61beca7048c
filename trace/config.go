package trace

import "github.com/ceyewan/meshlink/xerrors"

// 导出方式
const (
	ExporterOTLP = "otlp"
	ExporterNone = "none"
)

// Config 链路追踪配置
type Config struct {
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	// Exporter otlp 或 none。none 只生成 TraceID 并在进程内传播
	Exporter string  `mapstructure:"exporter" yaml:"exporter" json:"exporter"`
	Endpoint string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Sampler  float64 `mapstructure:"sampler" yaml:"sampler" json:"sampler"`
	// Batcher batch 或 simple
	Batcher  string `mapstructure:"batcher" yaml:"batcher" json:"batcher"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
}

// DefaultConfig 返回默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Exporter:    ExporterNone,
		Endpoint:    "localhost:4317",
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}

// Normalize 填充缺省值并校验
func (c *Config) Normalize() error {
	if c.Exporter == "" {
		c.Exporter = ExporterNone
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Batcher == "" {
		c.Batcher = "batch"
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "service_name is required")
	}
	if c.Exporter != ExporterOTLP && c.Exporter != ExporterNone {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "exporter must be %q or %q, got %q", ExporterOTLP, ExporterNone, c.Exporter)
	}
	if c.Sampler < 0 || c.Sampler > 1 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "sampler must be between 0 and 1, got %v", c.Sampler)
	}
	if c.Batcher != "batch" && c.Batcher != "simple" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "batcher must be \"batch\" or \"simple\", got %q", c.Batcher)
	}
	return nil
}
