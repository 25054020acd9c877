// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xid: 请求 ID（UUIDv7）与错误 ID（Sonyflake）生成
//
// 设计原则：
//   - 无状态或并发安全，可在任意 goroutine 调用
package util
