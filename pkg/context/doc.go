// Package context 提供上下文相关的子包。
//
// 子包列表：
//   - xctx: Context 增强，注入/提取请求 ID 与重试序号
//
// 设计原则：
//   - 所有上下文信息通过 context.Context 传递，不使用全局变量
//   - 日志与指标从 context 中读取关联信息，调用方无需逐层传参
package context
