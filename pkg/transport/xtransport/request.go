package xtransport

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Request 单次调用的请求描述。
//
// Request 在管道内可能被多次发送（重试、刷新凭证后重放），
// 发送方不得修改其字段，需要修改时使用 [Request.Clone]。
type Request struct {
	// Method HTTP 方法，为空时视为 GET。
	Method string

	// URL 完整 URL 或相对路径（相对路径由发送方与 BaseURL 拼接）。
	URL string

	// Header 请求头。
	Header http.Header

	// Body 请求体。
	Body []byte

	// Timeout 单次发送的超时时间，0 表示使用发送方默认值。
	Timeout time.Duration

	// Public 标记无需认证的请求，管道不会为其附加凭证。
	Public bool
}

// Clone 深拷贝请求，Header 与 Body 不与原请求共享。
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// MethodOrDefault 返回请求方法，为空时返回 GET。
func (r *Request) MethodOrDefault() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Response 传输层响应。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Duration 本次发送耗时。
	Duration time.Duration
}

// OK 报告响应状态码是否为 2xx。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender 传输层抽象。
//
// 实现必须是并发安全的。返回 error 时，状态码类失败应为 [*Error]
// 且携带响应，网络类失败应为不携带响应的 [*Error]。
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// SenderFunc 将普通函数适配为 [Sender]。
type SenderFunc func(ctx context.Context, req *Request) (*Response, error)

// Send 实现 [Sender]。
func (f SenderFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
