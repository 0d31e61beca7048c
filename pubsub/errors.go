package pubsub

import "github.com/ceyewan/meshlink/xerrors"

var (
	// ErrAckTimeout 超时内没有收到确认
	ErrAckTimeout = xerrors.NewCoded("ACK_TIMEOUT", "pubsub: ack timeout")

	// ErrNoReplyTo 消息没有确认通道，无法 Ack
	ErrNoReplyTo = xerrors.NewCoded("NO_REPLY_TO", "pubsub: message has no reply-to channel")

	// ErrUnsupportedCodec 未知编码
	ErrUnsupportedCodec = xerrors.NewCoded("UNSUPPORTED_CODEC", "pubsub: unsupported codec")

	// ErrUnsupportedTransport 未知传输层
	ErrUnsupportedTransport = xerrors.NewCoded("UNSUPPORTED_TRANSPORT", "pubsub: unsupported transport")

	// ErrClosed PubSub 已关闭
	ErrClosed = xerrors.NewCoded("PUBSUB_CLOSED", "pubsub: closed")
)
