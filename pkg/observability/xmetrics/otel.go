package xmetrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xclient/pkg/context/xctx"
)

const (
	defaultInstrumentationName = "github.com/omeyang/xclient/xmetrics"

	metricOperationTotal    = "xclient.operation.total"
	metricOperationDuration = "xclient.operation.duration"
)

// Option OTel 观测器选项。
type Option func(*otelObserverConfig)

type otelObserverConfig struct {
	name   string
	tracer trace.TracerProvider
	meter  metric.MeterProvider
}

// WithInstrumentationName 设置 instrumentation 名称。
func WithInstrumentationName(name string) Option {
	return func(c *otelObserverConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用全局。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *otelObserverConfig) {
		if tp != nil {
			c.tracer = tp
		}
	}
}

// WithMeterProvider 设置 MeterProvider，默认使用全局。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *otelObserverConfig) {
		if mp != nil {
			c.meter = mp
		}
	}
}

// NewOTelObserver 创建基于 OpenTelemetry 的观测器。
//
// 每个跨度生成一个 span，并按 component/operation/status 记录调用次数与耗时（秒）。
func NewOTelObserver(opts ...Option) (Observer, error) {
	c := otelObserverConfig{
		name:   defaultInstrumentationName,
		tracer: otel.GetTracerProvider(),
		meter:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	meter := c.meter.Meter(c.name)
	o := &otelObserver{tracer: c.tracer.Tracer(c.name)}
	var err error
	if o.total, err = meter.Int64Counter(metricOperationTotal,
		metric.WithDescription("client operations"), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("xmetrics: %s: %w", metricOperationTotal, err)
	}
	if o.duration, err = meter.Float64Histogram(metricOperationDuration,
		metric.WithDescription("client operation duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("xmetrics: %s: %w", metricOperationDuration, err)
	}
	return o, nil
}

type otelObserver struct {
	tracer   trace.Tracer
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func (o *otelObserver) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &otelSpan{
		observer:  o,
		component: orUnknown(opts.Component),
		operation: orUnknown(opts.Operation),
		start:     time.Now(),
	}

	attrs := []attribute.KeyValue{
		attribute.String("component", s.component),
		attribute.String("operation", s.operation),
	}
	if id := xctx.RequestID(ctx); id != "" {
		attrs = append(attrs, attribute.String(xctx.KeyRequestID, id))
	}
	attrs = appendAttrs(attrs, opts.Attrs)

	kind := trace.SpanKindInternal
	if opts.Kind == KindClient {
		kind = trace.SpanKindClient
	}
	s.ctx, s.span = o.tracer.Start(ctx, s.component+"."+s.operation,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	return s.ctx, s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

type otelSpan struct {
	observer  *otelObserver
	span      trace.Span
	ctx       context.Context
	component string
	operation string
	start     time.Time
	once      sync.Once
}

// End 幂等，只有第一次调用生效。
func (s *otelSpan) End(result Result) {
	s.once.Do(func() { s.end(result) })
}

func (s *otelSpan) end(result Result) {
	status := resolveStatus(result)
	switch {
	case result.Err != nil:
		s.span.RecordError(result.Err)
		s.span.SetStatus(codes.Error, result.Err.Error())
	case status == StatusError:
		s.span.SetStatus(codes.Error, "operation failed")
	default:
		s.span.SetStatus(codes.Ok, "")
	}
	if len(result.Attrs) > 0 {
		s.span.SetAttributes(appendAttrs(nil, result.Attrs)...)
	}
	s.span.End()

	// 调用方 ctx 可能已取消
	ctx := context.WithoutCancel(s.ctx)
	set := metric.WithAttributes(
		attribute.String("component", s.component),
		attribute.String("operation", s.operation),
		attribute.String("status", string(status)),
	)
	s.observer.total.Add(ctx, 1, set)
	s.observer.duration.Record(ctx, time.Since(s.start).Seconds(), set)
}

// appendAttrs 转换属性；Duration 以毫秒整数记录。
func appendAttrs(dst []attribute.KeyValue, attrs []Attr) []attribute.KeyValue {
	for _, a := range attrs {
		if a.Key == "" || a.Value == nil {
			continue
		}
		switch v := a.Value.(type) {
		case string:
			dst = append(dst, attribute.String(a.Key, v))
		case int:
			dst = append(dst, attribute.Int(a.Key, v))
		case time.Duration:
			dst = append(dst, attribute.Int64(a.Key, v.Milliseconds()))
		default:
			dst = append(dst, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return dst
}
