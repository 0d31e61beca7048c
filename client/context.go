package client

import "context"

type correlationKey struct{}

// WithCorrelationID 将关联 ID 写入 context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom 读取 context 中的关联 ID
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
