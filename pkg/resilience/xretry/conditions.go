package xretry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// statusCoder 携带 HTTP 状态码的错误。
type statusCoder interface {
	StatusCode() int
}

// responder 能区分是否得到服务端响应的错误。
type responder interface {
	HasResponse() bool
}

// timeouter 能报告超时的错误。
type timeouter interface {
	Timeout() bool
}

// networkKeywords 无结构化信息时用于识别网络失败的消息片段。
var networkKeywords = []string{
	"network",
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"eof",
}

// ConditionOf 识别错误对应的重试条件，无法识别时返回空串。
//
// 识别顺序：显式不可重试 → 取消 → 超时 → 状态码（429/5xx）→ 无响应 → 消息关键字。
// 带状态码但不属于 429/5xx 的错误（如 4xx）不属于任何条件。
func ConditionOf(err error) Condition {
	if err == nil {
		return ""
	}
	var re RetryableError
	if errors.As(err, &re) && !re.Retryable() {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return ""
	}
	if isTimeout(err) {
		return ConditionTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code > 0 {
			switch {
			case code == http.StatusTooManyRequests:
				return ConditionRateLimited
			case code >= 500 && code < 600:
				return ConditionServerError
			default:
				return ""
			}
		}
	}

	var rs responder
	if errors.As(err, &rs) && !rs.HasResponse() {
		return ConditionNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ConditionNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return ConditionNetwork
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}

// ShouldRetry 判断失败后是否应重试。
//
// attempt 为已执行的重试次数（首次失败时为 0）。规则依次为：
// 重试预算用尽 → false；显式不可重试 → false；条件不在策略允许列表中 → false；
// 最后由 Predicate（若有）作否决判定。
func ShouldRetry(err error, attempt int, p Policy) bool {
	if err == nil {
		return false
	}
	p = p.normalized()
	if attempt >= p.MaxRetries {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) && !re.Retryable() {
		return false
	}
	if c := ConditionOf(err); c == "" || !p.Allows(c) {
		return false
	}
	if p.Predicate != nil {
		return p.Predicate(err, attempt)
	}
	return true
}
