package xctx

import (
	"context"
	"log/slog"
)

// AppendAttrs 将 context 中的关联信息追加到 attrs，只追加非零字段。
func AppendAttrs(attrs []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return attrs
	}
	if v := RequestID(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyRequestID, v))
	}
	if v := Attempt(ctx); v > 0 {
		attrs = append(attrs, slog.Int(KeyAttempt, v))
	}
	if v := Operation(ctx); v != "" {
		attrs = append(attrs, slog.String(KeyOperation, v))
	}
	return attrs
}

// Attrs 提取关联信息，全部为空时返回 nil。
func Attrs(ctx context.Context) []slog.Attr {
	attrs := AppendAttrs(make([]slog.Attr, 0, 3), ctx)
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
