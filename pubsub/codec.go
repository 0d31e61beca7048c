package pubsub

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// 信封编码
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Codec 消息信封的编解码
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return CodecJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// msgpack 比 JSON 体积更小，但两端必须使用相同编码
type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return CodecMsgpack }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSONCodec JSON 编码，默认值
func JSONCodec() Codec { return jsonCodec{} }

// MsgpackCodec MessagePack 编码
func MsgpackCodec() Codec { return msgpackCodec{} }

// CodecByName 按名称返回编码器，空字符串返回 JSON
func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return jsonCodec{}, nil
	case CodecMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, name)
	}
}
