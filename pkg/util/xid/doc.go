// Package xid 生成客户端使用的两类标识符。
//
//   - 请求 ID：[NewRequestID]，UUIDv7（按时间有序，便于日志排序检索）。
//   - 错误 ID：[Generator]，基于 Sonyflake 的 63 位有序整数，以 36 进制字符串呈现。
//
// Sonyflake 默认依赖私有 IP 推导机器 ID，在笔记本或无私网地址的容器中会失败，
// 因此 [Generator] 总是显式提供机器 ID（见 [MachineID]）。
package xid
