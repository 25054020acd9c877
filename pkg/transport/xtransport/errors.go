package xtransport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNilRequest 请求为空。
	ErrNilRequest = errors.New("xtransport: nil request")

	// ErrResponseTooLarge 响应体超过大小限制。
	ErrResponseTooLarge = errors.New("xtransport: response too large")

	// ErrStatus 非 2xx 响应。通过 errors.Is 匹配任意状态码失败。
	ErrStatus = errors.New("xtransport: unexpected status")
)

// Error 传输失败。
//
// Response 非空表示服务端已经给出响应（状态码失败）；
// Response 为空表示请求未得到响应（网络失败、超时、取消）。
type Error struct {
	Op       string
	URL      string
	Response *Response
	Err      error
}

// NewStatusError 创建携带响应的状态码失败。
func NewStatusError(op, url string, resp *Response) *Error {
	return &Error{Op: op, URL: url, Response: resp, Err: ErrStatus}
}

// NewNetworkError 创建未得到响应的传输失败。
func NewNetworkError(op, url string, err error) *Error {
	return &Error{Op: op, URL: url, Err: err}
}

func (e *Error) Error() string {
	if e.Response != nil {
		return fmt.Sprintf("xtransport: %s %s: status %d", e.Op, e.URL, e.Response.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("xtransport: %s %s: failed", e.Op, e.URL)
	}
	return fmt.Sprintf("xtransport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode 返回响应状态码，没有响应时返回 0。
func (e *Error) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// HasResponse 报告失败是否携带服务端响应。
func (e *Error) HasResponse() bool {
	return e.Response != nil
}

// Body 返回响应体，没有响应时返回 nil。
func (e *Error) Body() []byte {
	if e.Response == nil {
		return nil
	}
	return e.Response.Body
}

// Timeout 报告失败是否由超时引起。
func (e *Error) Timeout() bool {
	if e.Response != nil || e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Canceled 报告失败是否由调用方取消引起。
func (e *Error) Canceled() bool {
	return e.Response == nil && errors.Is(e.Err, context.Canceled)
}
