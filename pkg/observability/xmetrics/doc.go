// Package xmetrics 提供统一的观测接口。
//
// 组件只依赖 [Observer]：每个操作开启一个 [Span]，结束时报告 [Result]。
// 默认使用 [NoopObserver]；接入 OpenTelemetry 时使用 [NewOTelObserver]，
// 它同时产生 trace span 与两个指标：
//
//   - xclient.operation.total（counter，按 component/operation/status 维度）
//   - xclient.operation.duration（histogram，单位秒）
//
// 若 context 中带有请求 ID（见 xctx），会作为 span 属性 request_id 记录。
package xmetrics
