// Package xlog 构建客户端使用的 *slog.Logger。
//
// 通过链式 Builder 配置输出、级别、格式与文件轮转：
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("tint").
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// 支持的格式：
//   - text：slog.TextHandler
//   - json：slog.JSONHandler
//   - tint：彩色终端输出（github.com/lmittmann/tint），适合命令行
//
// 默认启用 [EnrichHandler]，从 context 注入 request_id/attempt/operation，
// 因此调用方应使用 InfoContext 等带 ctx 的方法。
package xlog
