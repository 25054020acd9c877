// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持 tint 控制台输出与文件轮转
//   - xmetrics: 统一可观测性接口（指标、追踪），提供 OpenTelemetry 实现
//   - xmonitor: 请求计时与统计，慢请求告警
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 自动从 context 中提取请求 ID 注入日志
//   - 统计只由显式操作清零
package observability
