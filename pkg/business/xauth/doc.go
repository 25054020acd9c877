// Package xauth 管理访问凭证的获取与刷新。
//
// # 单飞刷新
//
// [Manager] 保证任意时刻最多一次进行中的刷新：
//   - 空闲且令牌在刷新阈值之外：[Manager.GetValidToken] 立即返回
//   - 令牌临近过期：发起一次刷新，调用者排队等待
//   - 刷新进行中：后续调用者只排队，不会发起第二次刷新
//
// 刷新结束时所有等待者按入队顺序收到同一结果。刷新失败时每个等待者收到
// 同一个 [*RefreshError]（errors.Is 匹配 [ErrRefreshFailed]），不会自动重试。
//
// [Manager.ForceRefresh] 跳过过期检查；[Manager.RenewRejected] 用于 401 之后，
// 若其他调用者已经换到新令牌则直接返回。
//
// # 凭证存储
//
//   - [MemoryStore]：进程内
//   - [RedisStore]：多实例共享，JSON 存储，TTL 为距过期时长加保留时长
//
// 未提供过期时间的 JWT 令牌从 exp 声明推导过期时间（不校验签名）。
//
// # 后台检查
//
// [Manager.Start] 以 "@every <CheckInterval>" 调度后台检查，临近过期时主动刷新；
// [Manager.Stop] 停止调度并等待进行中的刷新。
package xauth
