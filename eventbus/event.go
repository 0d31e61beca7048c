package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ceyewan/meshlink/xerrors"
)

var (
	// ErrHandler 处理器返回错误或 panic，只记录在 HandlerResult 中
	ErrHandler = xerrors.NewCoded("HANDLER_ERROR", "eventbus: handler failed")

	// ErrInvalidEvent 事件缺少类型
	ErrInvalidEvent = xerrors.NewCoded("INVALID_EVENT", "eventbus: invalid event")

	// ErrClosed 总线已关闭
	ErrClosed = xerrors.NewCoded("EVENTBUS_CLOSED", "eventbus: closed")
)

// DomainEvent 领域事件
//
// Payload 以 JSON 保存，历史记录与每个处理器各持有独立副本。
type DomainEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int             `json:"version"`
}

// NewEvent 以 JSON 序列化 payload 创建事件
func NewEvent(typ, aggregateID string, payload any) (DomainEvent, error) {
	event := DomainEvent{Type: typ, AggregateID: aggregateID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return DomainEvent{}, fmt.Errorf("eventbus: marshal payload: %w", err)
		}
		event.Payload = data
	}
	return event, nil
}

// Decode 将 payload 反序列化到 v
func (e DomainEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

func (e DomainEvent) clone() DomainEvent {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// HandlerResult 单个处理器的执行结果
type HandlerResult struct {
	Handler     string        `json:"handler"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	ProcessedAt time.Time     `json:"processedAt"`

	// Err 包装 ErrHandler
	Err error `json:"-"`
}

// EventRecord 事件及其处理结果，结果按完成顺序追加
type EventRecord struct {
	Event   DomainEvent     `json:"event"`
	Results []HandlerResult `json:"results"`
}

// Succeeded 成功的处理器数量
func (r *EventRecord) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Failed 失败的处理器数量
func (r *EventRecord) Failed() int {
	return len(r.Results) - r.Succeeded()
}

func (r *EventRecord) clone() EventRecord {
	cp := EventRecord{Event: r.Event.clone()}
	if len(r.Results) > 0 {
		cp.Results = make([]HandlerResult, len(r.Results))
		copy(cp.Results, r.Results)
	}
	return cp
}

// Stats 时间窗口内的事件统计
type Stats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"byType"`
	// ByDate 键为 UTC 日期 YYYY-MM-DD
	ByDate map[string]int `json:"byDate"`
}
