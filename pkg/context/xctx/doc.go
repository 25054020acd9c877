// Package xctx 在 context.Context 中传递单次调用的关联信息。
//
// 请求管道为每次调用生成唯一请求 ID，并与当前尝试序号一起注入 context，
// 监控记录、重试记录、错误上下文与日志都以同一个请求 ID 关联：
//
//	ctx = xctx.WithRequestID(ctx, id)
//	ctx = xctx.WithAttempt(ctx, 2)
//	logger.InfoContext(ctx, "sending") // xlog 的 enrich handler 会自动带上 request_id/attempt
//
// 读取函数对缺失字段返回零值；需要强制存在时使用 RequireXxx。
package xctx
