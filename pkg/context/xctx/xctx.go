package xctx

import (
	"context"
	"errors"
)

// contextKey 包私有 key 类型，避免与其他包冲突。
type contextKey string

const (
	keyRequestID contextKey = "xctx.request_id"
	keyAttempt   contextKey = "xctx.attempt"
	keyOperation contextKey = "xctx.operation"
)

// 日志属性 key。
const (
	KeyRequestID = "request_id"
	KeyAttempt   = "attempt"
	KeyOperation = "operation"
)

var (
	// ErrNilContext 传入的 context 为 nil。
	ErrNilContext = errors.New("xctx: nil context")

	// ErrMissingRequestID request_id 缺失。
	ErrMissingRequestID = errors.New("xctx: missing request_id")
)

// =============================================================================
// Request ID
// =============================================================================

// WithRequestID 将请求 ID 写入 context。nil ctx 视为 context.Background()。
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID 读取请求 ID，不存在时返回空串。
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(keyRequestID).(string) //nolint:errcheck // 类型不符即视为缺失
	return v
}

// RequireRequestID 读取请求 ID，缺失时返回 ErrMissingRequestID。
func RequireRequestID(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	v := RequestID(ctx)
	if v == "" {
		return "", ErrMissingRequestID
	}
	return v, nil
}

// =============================================================================
// Attempt
// =============================================================================

// WithAttempt 写入当前尝试序号（从 1 开始）。
func WithAttempt(ctx context.Context, attempt int) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyAttempt, attempt)
}

// Attempt 读取当前尝试序号，不存在时返回 0。
func Attempt(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	v, _ := ctx.Value(keyAttempt).(int) //nolint:errcheck // 类型不符即视为缺失
	return v
}

// =============================================================================
// Operation
// =============================================================================

// WithOperation 写入操作名（如 "GET /users"），用于日志归类。
func WithOperation(ctx context.Context, op string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyOperation, op)
}

// Operation 读取操作名。
func Operation(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(keyOperation).(string) //nolint:errcheck // 类型不符即视为缺失
	return v
}
