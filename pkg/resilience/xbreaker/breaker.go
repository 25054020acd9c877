package xbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xclient/pkg/resilience/xretry"
)

// State 熔断器状态。
type State = gobreaker.State

// 状态常量。
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Counts 熔断器计数。
type Counts = gobreaker.Counts

type options struct {
	failures      uint32
	timeout       time.Duration
	interval      time.Duration
	maxRequests   uint32
	logger        *slog.Logger
	onStateChange func(name string, from, to State)
}

// Option 熔断器选项。
type Option func(*options)

// WithConsecutiveFailures 连续失败多少次后打开，默认 5。
func WithConsecutiveFailures(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.failures = n
		}
	}
}

// WithTimeout 打开状态持续时间，之后进入半开，默认 30s。
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithInterval 关闭状态下计数清零周期，0 表示不清零。
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// WithMaxRequests 半开状态允许通过的请求数，默认 1。
func WithMaxRequests(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRequests = n
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnStateChange 状态变化回调。
func WithOnStateChange(f func(name string, from, to State)) Option {
	return func(o *options) {
		o.onStateChange = f
	}
}

func defaultOptions() *options {
	return &options{
		failures:    5,
		timeout:     30 * time.Second,
		maxRequests: 1,
		logger:      slog.Default(),
	}
}

// Breaker 单个熔断器。
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker 创建熔断器。
func NewBreaker(name string, opts ...Option) *Breaker {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return newBreaker(name, o)
}

func newBreaker(name string, o *options) *Breaker {
	failures := o.failures
	logger := o.logger
	onChange := o.onStateChange
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: o.maxRequests,
		Interval:    o.interval,
		Timeout:     o.timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful:  IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("xbreaker: state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	}
	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker[any](st)}
}

// IsSuccessful 熔断判定：只有网络失败、超时与 5xx 计为失败。
func IsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	switch xretry.ConditionOf(err) {
	case xretry.ConditionNetwork, xretry.ConditionTimeout, xretry.ConditionServerError:
		return false
	default:
		return true
	}
}

// Name 返回名称。
func (b *Breaker) Name() string {
	return b.name
}

// State 返回当前状态。
func (b *Breaker) State() State {
	return b.cb.State()
}

// Counts 返回当前计数。
func (b *Breaker) Counts() Counts {
	return b.cb.Counts()
}

// Do 在熔断保护下执行 fn。ctx 已结束时直接返回 ctx 错误。
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	_, err := Execute(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Execute 在熔断保护下执行 fn 并返回结果。
func Execute[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return zero, ErrNilBreaker
	}
	if fn == nil {
		return zero, ErrNilFunc
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
	var result T
	_, err := b.cb.Execute(func() (any, error) {
		r, err := fn()
		result = r
		return nil, err
	})
	if err != nil {
		return result, wrapRejection(err, b.name, b.cb.State())
	}
	return result, nil
}

// Group 按 key（通常是主机名）懒创建熔断器，并发安全。
type Group struct {
	opts *options

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup 创建熔断器组，opts 作用于组内每个熔断器。
func NewGroup(opts ...Option) *Group {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Group{opts: o, breakers: make(map[string]*Breaker)}
}

// Get 返回 key 对应的熔断器，不存在时创建。
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = newBreaker(key, g.opts)
		g.breakers[key] = b
	}
	return b
}

// States 返回组内全部熔断器的状态。
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.breakers))
	for k, b := range g.breakers {
		out[k] = b.State()
	}
	return out
}
