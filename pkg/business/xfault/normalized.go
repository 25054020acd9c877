package xfault

import (
	"maps"
	"time"
)

// Source 失败来源，决定提示文案是否可以直接展示给用户。
type Source int

const (
	// SourceError 普通 Go 错误，消息属于技术细节。
	SourceError Source = iota
	// SourceResponse 服务端响应（带状态码）。
	SourceResponse
	// SourceTransport 未得到响应的传输失败。
	SourceTransport
	// SourceRPC gRPC 状态错误。
	SourceRPC
	// SourceMessage 调用方提供的提示文本。
	SourceMessage
)

// NormalizedError 标准化后的失败记录。
//
// 由 [Center.Classify] 一次性创建，之后不再修改；
// Category/Severity 总是已确定（默认 UNKNOWN/MEDIUM）。
// Details 与 Context 通过访问器返回副本。
type NormalizedError struct {
	ID        string
	Timestamp time.Time
	Message   string
	Code      string
	Status    int
	Category  Category
	Severity  Severity
	Source    Source
	Original  error

	// serverText 报告 Message 是否来自服务端或调用方提供的可展示文本。
	serverText bool
	details    map[string]any
	context    map[string]any
}

func (e *NormalizedError) Error() string {
	if e.Code != "" {
		return e.Category.String() + " [" + e.Code + "]: " + e.Message
	}
	return e.Category.String() + ": " + e.Message
}

func (e *NormalizedError) Unwrap() error {
	return e.Original
}

// Detail 读取单个明细字段。
func (e *NormalizedError) Detail(key string) (any, bool) {
	v, ok := e.details[key]
	return v, ok
}

// Details 返回明细副本。
func (e *NormalizedError) Details() map[string]any {
	return maps.Clone(e.details)
}

// Context 返回上下文副本（request_id、attempt、retry_attempts 等）。
func (e *NormalizedError) Context() map[string]any {
	return maps.Clone(e.context)
}

// DisplayMessage 返回面向用户的提示：优先使用服务端文本，否则使用类别的静态文案。
func (e *NormalizedError) DisplayMessage() string {
	if e.serverText && e.Message != "" {
		return e.Message
	}
	return fallbackMessage(e.Category)
}

// RequestID 返回关联的请求 ID。
func (e *NormalizedError) RequestID() string {
	v, _ := e.context[ctxKeyRequestID].(string) //nolint:errcheck // 类型不符视为缺失
	return v
}
