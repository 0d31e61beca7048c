package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "meshd"
//	  version: "v0.1.0"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 为 false 时 New 返回 Discard()
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	Version     string `mapstructure:"version" yaml:"version"`
	// Port 大于 0 时启动 Prometheus HTTP 服务
	Port int    `mapstructure:"port" yaml:"port"`
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDevDefaultConfig 启用收集但不监听端口，适合测试
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
	}
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "meshlink"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
