// Package xretry 实现客户端的重试管理器。
//
// [Manager] 在 avast/retry-go/v5 之上增加了客户端需要的语义：
//
//   - [Policy]：最大重试次数、基础/最大延迟、退避策略、重试条件、自定义判定与回调
//   - 退避策略：exponential（base×2^(n-1)）、linear（base×n）、fixed（base）、immediate（0），
//     非零延迟再叠加 [0, 0.1×delay) 的均匀抖动，最后截断到 MaxDelay
//   - 重试条件：network（无响应）、timeout、server_error（5xx）、rate_limited（429），
//     由 [ConditionOf] 从错误上识别
//   - 统计：执行次数、重试次数、重试后成功/失败次数、进行中的重试记录
//
// 重试耗尽时返回 [*ExhaustedError]，携带总尝试次数与最后一次的原始错误：
//
//	m := xretry.NewManager(xretry.WithPolicy(xretry.DefaultPolicy()))
//	resp, err := xretry.Execute(ctx, m, func(ctx context.Context) (*Response, error) {
//	    return send(ctx)
//	}, nil)
//	var ex *xretry.ExhaustedError
//	if errors.As(err, &ex) {
//	    log.Printf("gave up after %d attempts", ex.TotalAttempts)
//	}
//
// 实现 Retryable() bool 且返回 false 的错误永远不会被重试（例如熔断器打开）。
package xretry
