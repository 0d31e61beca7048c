package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	topicPrefix = "service:"
	ackInfix    = ":ack:"

	// AckEventType 确认消息的类型
	AckEventType = "ack"
)

// Message 异步消息信封
type Message struct {
	ID            string          `json:"id" msgpack:"id"`
	Type          string          `json:"type" msgpack:"type"`
	Sender        string          `json:"sender" msgpack:"sender"`
	Recipient     string          `json:"recipient,omitempty" msgpack:"recipient,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp" msgpack:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty" msgpack:"correlation_id,omitempty"`
	// ReplyTo 逻辑通道名，由 PublishWithAck 设置
	ReplyTo string `json:"replyTo,omitempty" msgpack:"reply_to,omitempty"`
	// Headers 传播用的元数据，发布时写入 traceparent
	Headers map[string]string `json:"headers,omitempty" msgpack:"headers,omitempty"`
}

// NewMessage 以 JSON 序列化 payload 创建消息
func NewMessage(typ string, payload any) (*Message, error) {
	msg := &Message{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("pubsub: marshal payload: %w", err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode 将 payload 反序列化到 v
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

type ackPayload struct {
	MessageID string `json:"messageId"`
}

// Topic 逻辑通道对应的底层 topic
func Topic(channel string) string {
	return topicPrefix + channel
}

// AckChannel 某条消息的确认通道
func AckChannel(channel, messageID string) string {
	return channel + ackInfix + messageID
}

func isAckChannel(channel string) bool {
	return strings.Contains(channel, ackInfix)
}
