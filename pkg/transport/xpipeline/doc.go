// Package xpipeline 在每次出站调用边界组合凭证、重试、熔断、监控与错误处理。
//
// 一次 [Pipeline.Do] 的流程：
//
//  1. 生成唯一请求 ID，写入 ctx；监控记录、重试记录、日志与错误上下文共享该 ID
//  2. 非免认证请求附加 "Authorization: Bearer <token>"
//  3. 在重试策略（默认只重试网络、超时与 5xx）与可选的按主机熔断下发送
//  4. 失败时分类：认证失败续期后重放一次，重放仍失败或续期失败即终止；
//     其他类别直接上报
//
// 每个终止失败只交给 xfault.Center 处理一次，调用方收到 *xfault.NormalizedError。
// 免认证请求（默认 /auth/login、/auth/refresh 前缀，或 [Public]）不附加凭证，
// 也不走续期分支，但仍按策略重试。
package xpipeline
