// Package idgen 提供实例、消息、事件与关联 ID 的生成。
//
// 全部基于 UUID：v4 用于实例 ID 与关联 ID，v7 按时间有序，
// 用于消息和事件 ID，使历史记录天然按生成顺序排序。
package idgen

import "github.com/google/uuid"

// Generator ID 生成器
type Generator interface {
	Next() string
}

// NewUUIDV4 生成随机 UUID
func NewUUIDV4() string {
	return uuid.NewString()
}

// NewUUIDV7 生成时间有序 UUID，失败时回退到 v4
func NewUUIDV7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v7.String()
}

// NewCorrelationID 生成请求关联 ID
func NewCorrelationID() string {
	return NewUUIDV4()
}

// UUID 可配置版本的生成器，默认 v7
type UUID struct {
	version string
}

// UUIDOption UUID 生成器选项
type UUIDOption func(*UUID)

// WithUUIDVersion 指定版本："v4" 或 "v7"
func WithUUIDVersion(version string) UUIDOption {
	return func(u *UUID) {
		u.version = version
	}
}

// NewUUID 创建 UUID 生成器
func NewUUID(opts ...UUIDOption) *UUID {
	u := &UUID{version: "v7"}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Next 生成下一个 ID
func (u *UUID) Next() string {
	if u.version == "v4" {
		return NewUUIDV4()
	}
	return NewUUIDV7()
}

// Func 将普通函数适配为 Generator，测试中常用于注入确定性 ID
type Func func() string

func (f Func) Next() string { return f() }
