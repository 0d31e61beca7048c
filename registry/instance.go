package registry

import (
	"math"
	"net"
	"strconv"
	"time"
)

// Status 实例健康状态
type Status string

const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusOutOfService Status = "OUT_OF_SERVICE"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusUp, StatusDown, StatusOutOfService:
		return true
	}
	return false
}

// MetadataWeight 元数据中的权重键，值为正数
const MetadataWeight = "weight"

// ServiceInstance 服务实例
//
// 实例由 Registry 独占，对外返回的都是副本，修改副本不影响注册表。
type ServiceInstance struct {
	ServiceName    string            `json:"serviceName"`
	ID             string            `json:"id"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Version        string            `json:"version,omitempty"`
	HealthCheckURL string            `json:"healthCheckUrl,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         Status            `json:"status"`
	RegisteredAt   time.Time         `json:"registeredAt"`
	LastHeartbeat  time.Time         `json:"lastHeartbeat"`
}

// Address 返回 host:port
func (i *ServiceInstance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Available 状态为 UP
func (i *ServiceInstance) Available() bool {
	return i.Status == StatusUp
}

// Weight 解析元数据中的 weight，缺省或非法（非正数、NaN、Inf）时为 1
func (i *ServiceInstance) Weight() float64 {
	raw, ok := i.Metadata[MetadataWeight]
	if !ok {
		return 1
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(w > 0) || math.IsInf(w, 1) {
		return 1
	}
	return w
}

func (i *ServiceInstance) clone() *ServiceInstance {
	c := *i
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Registration 注册请求
//
// ID 为空时由 Registry 生成。
type Registration struct {
	ServiceName    string            `json:"serviceName" mapstructure:"service_name" yaml:"service_name"`
	ID             string            `json:"id,omitempty" mapstructure:"id" yaml:"id"`
	Host           string            `json:"host" mapstructure:"host" yaml:"host"`
	Port           int               `json:"port" mapstructure:"port" yaml:"port"`
	Version        string            `json:"version,omitempty" mapstructure:"version" yaml:"version"`
	HealthCheckURL string            `json:"healthCheckUrl,omitempty" mapstructure:"health_check_url" yaml:"health_check_url"`
	Metadata       map[string]string `json:"metadata,omitempty" mapstructure:"metadata" yaml:"metadata"`
}

func (r Registration) validate() error {
	switch {
	case r.ServiceName == "":
		return wrapInvalid("service name is required")
	case r.Host == "":
		return wrapInvalid("host is required")
	case r.Port <= 0 || r.Port > 65535:
		return wrapInvalid("port %d out of range", r.Port)
	}
	return nil
}

// ServiceSummary 服务概览，供控制台展示
type ServiceSummary struct {
	Name               string `json:"name"`
	Instances          int    `json:"instances"`
	AvailableInstances int    `json:"availableInstances"`
	Status             Status `json:"status"`
}
