package clog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NamespaceKey 日志中命名空间的字段名
const NamespaceKey = "namespace"

// contextAttrs 按规则从 ctx 提取字段，字符串以外的值用 %v 格式化
func contextAttrs(ctx context.Context, fields []ContextField) []slog.Attr {
	if ctx == nil || len(fields) == 0 {
		return nil
	}
	var attrs []slog.Attr
	for _, cf := range fields {
		val := ctx.Value(cf.Key)
		if val == nil {
			continue
		}
		switch v := val.(type) {
		case string:
			if v != "" {
				attrs = append(attrs, slog.String(cf.FieldName, v))
			}
		case fmt.Stringer:
			attrs = append(attrs, slog.String(cf.FieldName, v.String()))
		default:
			attrs = append(attrs, slog.Any(cf.FieldName, v))
		}
	}
	return attrs
}

func namespaceAttr(parts []string) (slog.Attr, bool) {
	if len(parts) == 0 {
		return slog.Attr{}, false
	}
	return slog.String(NamespaceKey, strings.Join(parts, ".")), true
}
