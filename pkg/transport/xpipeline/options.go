package xpipeline

import (
	"log/slog"
	"strings"

	"github.com/omeyang/xclient/pkg/observability/xmetrics"
	"github.com/omeyang/xclient/pkg/observability/xmonitor"
	"github.com/omeyang/xclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// DefaultPublicPaths 默认免认证路径前缀。
var DefaultPublicPaths = []string{"/auth/login", "/auth/refresh"}

// DefaultPolicy 管道默认重试策略：只重试网络、超时与 5xx。
func DefaultPolicy() xretry.Policy {
	p := xretry.DefaultPolicy()
	p.Conditions = []xretry.Condition{
		xretry.ConditionNetwork,
		xretry.ConditionTimeout,
		xretry.ConditionServerError,
	}
	return p
}

// Option 管道选项。
type Option func(*Pipeline)

// WithTokens 设置令牌来源，nil 表示不附加凭证。
func WithTokens(t TokenSource) Option {
	return func(p *Pipeline) {
		p.tokens = t
	}
}

// WithRetry 设置重试管理器，调用默认使用其当前策略。
func WithRetry(m *xretry.Manager) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.retry = m
		}
	}
}

// WithPolicy 设置默认重试策略，写入重试管理器。
func WithPolicy(pol xretry.Policy) Option {
	return func(p *Pipeline) {
		p.policy = &pol
	}
}

// WithMonitor 设置请求监控。
func WithMonitor(m *xmonitor.Monitor) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.monitor = m
		}
	}
}

// WithBreakers 启用按主机的熔断。
func WithBreakers(g *xbreaker.Group) Option {
	return func(p *Pipeline) {
		p.breakers = g
	}
}

// WithObserver 设置可观测性接口。
func WithObserver(o xmetrics.Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublicPaths 设置免认证路径前缀，替换默认值。缺少前导 "/" 的前缀会被补齐。
func WithPublicPaths(prefixes ...string) Option {
	return func(p *Pipeline) {
		p.publicPaths = p.publicPaths[:0]
		for _, prefix := range prefixes {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				p.publicPaths = append(p.publicPaths, xtransport.PathOf(prefix))
			}
		}
	}
}

// WithBaseURL 设置相对路径请求所属的服务地址，用于选择熔断器。
func WithBaseURL(base string) Option {
	return func(p *Pipeline) {
		p.baseHost = xtransport.HostOf(base)
	}
}

// WithIDGenerator 替换请求 ID 生成函数。
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// =============================================================================
// 单次调用选项
// =============================================================================

type callOptions struct {
	policy    *xretry.Policy
	overrides *xretry.Policy
	public    bool
	silent    bool
}

// CallOption 单次调用选项。
type CallOption func(*callOptions)

// CallPolicy 为本次调用指定重试策略。
func CallPolicy(p xretry.Policy) CallOption {
	return func(o *callOptions) {
		o.policy = &p
	}
}

// CallOverrides 以当前默认策略为基础，用 p 中的非零字段覆盖，作为本次调用的策略。
// 同时指定 CallPolicy 时以 CallPolicy 为准。
func CallOverrides(p xretry.Policy) CallOption {
	return func(o *callOptions) {
		o.overrides = &p
	}
}

// Public 将本次调用视为免认证请求。
func Public() CallOption {
	return func(o *callOptions) {
		o.public = true
	}
}

// Silent 失败只记录不通知用户。
func Silent() CallOption {
	return func(o *callOptions) {
		o.silent = true
	}
}
