package metrics

// Label 指标标签
//
// 标签值应保持低基数：服务名、实例 ID、结果，避免关联 ID 之类的请求级值。
type Label struct {
	Key   string
	Value string
}

// L 创建标签
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// 常用标签键
const (
	LabelService  = "service"
	LabelInstance = "instance"
	LabelOutcome  = "outcome"
	LabelState    = "state"
	LabelStrategy = "strategy"
	LabelChannel  = "channel"
	LabelEvent    = "event_type"
	LabelStatus   = "status_class"
)

// 常用结果值
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// HTTPStatusClass 返回 1xx/2xx/3xx/4xx/5xx，非法值返回 unknown
func HTTPStatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return string(rune('0'+status/100)) + "xx"
}
