// Package xfault 将各种失败标准化为 [NormalizedError]，并按类别分发处理。
//
// # 分类
//
// [Center.Classify] 接受 error、*xtransport.Response、gRPC status、
// 纯字符串消息以及已标准化的错误（幂等，原样返回）。
// 状态码优先于消息关键字：401 认证、403 授权、422 校验、5xx 服务端、其余 4xx 业务。
// 没有响应的传输失败归为网络类。
//
// # 分发
//
// [Center.Handle] 依次尝试类别处理器、全局处理器和内置处理器。
// 自定义处理器返回错误或 panic 时只展示通用系统错误提示，不再继续分发。
//
// 内置认证处理按规则顺序判定会话是否失效（401、令牌错误码、失效消息），
// 失效时提示后延迟强制登出；免认证请求只提示；会话主动登出期间全部静默。
//
// # 历史
//
// 最近的错误保存在固定容量的 LRU 中（默认 100 条），[Center.History] 最新在前。
package xfault
