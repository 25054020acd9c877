// Package xmonitor 记录每次调用的耗时与结果。
//
// 管道在发送前以请求 ID 调用 [Monitor.Start]，结束时调用 [Monitor.End]。
// 计时条目按请求 ID 隔离，互不共享；计数器单调递增，只有 [Monitor.Reset] 会清零。
// 耗时超过慢请求阈值（默认 3s）的调用会以 Warn 级别记录。
package xmonitor
