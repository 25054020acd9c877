// Package xbreaker 为传输层提供熔断保护（基于 sony/gobreaker/v2）。
//
// 只有网络失败、超时与 5xx 计为熔断失败；4xx、429 与调用方取消都不会推动熔断。
// 熔断打开或半开状态请求超限时返回 [*BreakerError]，其 Retryable() 为 false，
// 因此重试管理器不会对其重试：
//
//	g := xbreaker.NewGroup(xbreaker.WithConsecutiveFailures(5), xbreaker.WithTimeout(30*time.Second))
//	err := g.Get("api.example.com").Do(ctx, func() error { return send(ctx) })
//	if xbreaker.IsOpen(err) {
//	    // 快速失败
//	}
package xbreaker
