package xpipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/context/xctx"
	"github.com/omeyang/xclient/pkg/observability/xmetrics"
	"github.com/omeyang/xclient/pkg/observability/xmonitor"
	"github.com/omeyang/xclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
	"github.com/omeyang/xclient/pkg/util/xid"
)

//go:generate mockgen -destination=mock_sender_test.go -package=xpipeline github.com/omeyang/xclient/pkg/transport/xtransport Sender

const (
	// MetricsComponent 组件名称。
	MetricsComponent = "xpipeline"

	// MetricsOpDo 单次调用。
	MetricsOpDo = "Do"

	// CodeSessionExpired 凭证无法续期时的错误码。
	CodeSessionExpired = "SESSION_EXPIRED"

	sessionExpiredMessage = "Your session has expired. Please sign in again."

	defaultBreakerKey = "default"
)

var (
	// ErrNilSender 传输层为 nil。
	ErrNilSender = errors.New("xpipeline: nil sender")

	// ErrNilCenter 错误中心为 nil。
	ErrNilCenter = errors.New("xpipeline: nil error center")
)

// TokenSource 令牌来源，*xauth.Manager 实现该接口。
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	RenewRejected(ctx context.Context, rejected string) (string, error)
}

// Pipeline 在每次调用边界组合凭证、重试、熔断、监控与错误处理。
type Pipeline struct {
	sender      xtransport.Sender
	faults      *xfault.Center
	tokens      TokenSource
	retry       *xretry.Manager
	policy      *xretry.Policy
	monitor     *xmonitor.Monitor
	breakers    *xbreaker.Group
	observer    xmetrics.Observer
	logger      *slog.Logger
	publicPaths []string
	baseHost    string
	newID       func() string
}

// New 创建管道。
func New(sender xtransport.Sender, faults *xfault.Center, opts ...Option) (*Pipeline, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if faults == nil {
		return nil, ErrNilCenter
	}
	p := &Pipeline{
		sender:      sender,
		faults:      faults,
		observer:    xmetrics.NoopObserver{},
		logger:      slog.Default(),
		publicPaths: append([]string(nil), DefaultPublicPaths...),
		newID:       xid.NewRequestID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.retry == nil {
		p.retry = xretry.NewManager(xretry.WithPolicy(DefaultPolicy()), xretry.WithLogger(p.logger))
	}
	if p.policy != nil {
		if err := p.retry.SetPolicy(*p.policy); err != nil {
			return nil, err
		}
	}
	if p.monitor == nil {
		p.monitor = xmonitor.New(xmonitor.WithLogger(p.logger))
	}
	return p, nil
}

// Monitor 返回请求监控。
func (p *Pipeline) Monitor() *xmonitor.Monitor { return p.monitor }

// Retry 返回重试管理器。
func (p *Pipeline) Retry() *xretry.Manager { return p.retry }

// IsPublic 报告 URL 是否在免认证前缀名单内，前缀按路径段边界匹配。
func (p *Pipeline) IsPublic(rawURL string) bool {
	path := xtransport.PathOf(rawURL)
	for _, prefix := range p.publicPaths {
		if xtransport.HasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Do 执行一次调用。
//
// 流程：生成请求 ID → 开始监控 → 附加凭证（免认证请求除外）→ 经熔断与重试发送 →
// 失败时分类并路由：认证失败续期后重放一次；网络与服务端失败已由重试处理；
// 其余类别直接上报。每个终止失败只上报一次，返回值为 *xfault.NormalizedError。
func (p *Pipeline) Do(ctx context.Context, req *xtransport.Request, opts ...CallOption) (*xtransport.Response, error) {
	if req == nil {
		return nil, xtransport.ErrNilRequest
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var co callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&co)
		}
	}
	if co.policy == nil && co.overrides != nil {
		merged := p.retry.Policy().Merge(*co.overrides)
		co.policy = &merged
	}
	method := req.MethodOrDefault()
	id := p.newID()
	ctx = xctx.WithRequestID(ctx, id)
	ctx = xctx.WithOperation(ctx, method+" "+xtransport.PathOf(req.URL))

	c := &call{
		req:    req,
		policy: co.policy,
		public: co.public || req.Public || p.IsPublic(req.URL),
		hctx: xfault.HandleContext{
			Method: method,
			URL:    req.URL,
			Silent: co.silent,
		},
	}
	c.hctx.Public = c.public

	ctx, span := xmetrics.Start(ctx, p.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpDo,
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.String(xctx.KeyRequestID, id),
			xmetrics.String("http.method", method),
			xmetrics.String("http.path", xtransport.PathOf(req.URL)),
		},
	})
	if err := p.monitor.Start(id, method, req.URL); err != nil {
		p.logger.WarnContext(ctx, "xpipeline: monitor start failed",
			slog.String(xctx.KeyRequestID, id),
			slog.String("error", err.Error()),
		)
	}

	resp, ne := p.execute(ctx, c)

	var err error
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	var attrs []xmetrics.Attr
	if ne != nil {
		err = ne
		status = ne.Status
		attrs = append(attrs,
			xmetrics.String("error.category", ne.Category.String()),
			xmetrics.String("error.id", ne.ID),
		)
	}
	p.monitor.End(ctx, id, status, err)
	span.End(xmetrics.Result{Err: err, Attrs: attrs})
	if ne != nil {
		return nil, ne
	}
	return resp, nil
}

// call 单次调用的状态。
type call struct {
	req    *xtransport.Request
	// policy 为 nil 时使用重试管理器的当前策略
	policy *xretry.Policy
	public bool
	hctx   xfault.HandleContext
}

func (p *Pipeline) execute(ctx context.Context, c *call) (*xtransport.Response, *xfault.NormalizedError) {
	auth := !c.public && p.tokens != nil

	token := ""
	if auth {
		t, err := p.tokens.GetValidToken(ctx)
		switch {
		case err == nil:
			token = t
		case errors.Is(err, xauth.ErrNoCredential):
			// 没有凭证时照常发送，由服务端决定
		default:
			return nil, p.report(ctx, p.renewalFailure(ctx, err), c)
		}
	}

	resp, err := p.send(ctx, c, token)
	if err == nil {
		return resp, nil
	}
	ne := p.faults.ClassifyContext(ctx, err)
	if ne.Category != xfault.CategoryAuthentication || !auth {
		return nil, p.report(ctx, ne, c)
	}

	// 认证失败：续期后重放一次，重放仍失败即终止
	fresh, rerr := p.tokens.RenewRejected(ctx, token)
	if rerr != nil {
		return nil, p.report(ctx, p.renewalFailure(ctx, rerr), c)
	}
	p.logger.DebugContext(ctx, "xpipeline: replaying with renewed credential",
		slog.String(xctx.KeyRequestID, xctx.RequestID(ctx)),
		slog.String("error_id", ne.ID),
	)
	resp, err = p.send(ctx, c, fresh)
	if err == nil {
		return resp, nil
	}
	return nil, p.report(ctx, p.faults.ClassifyContext(ctx, err), c)
}

// send 在重试策略下发送，每次尝试使用请求的独立副本。
func (p *Pipeline) send(ctx context.Context, c *call, token string) (*xtransport.Response, error) {
	return xretry.Execute(ctx, p.retry, func(ctx context.Context) (*xtransport.Response, error) {
		r := c.req.Clone()
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return p.sendOnce(ctx, r)
	}, c.policy)
}

func (p *Pipeline) sendOnce(ctx context.Context, r *xtransport.Request) (*xtransport.Response, error) {
	send := func() (*xtransport.Response, error) {
		resp, err := p.sender.Send(ctx, r)
		if err == nil && resp != nil && !resp.OK() {
			err = xtransport.NewStatusError(r.MethodOrDefault(), r.URL, resp)
		}
		return resp, err
	}
	if p.breakers == nil {
		return send()
	}
	return xbreaker.Execute(ctx, p.breakers.Get(p.breakerKey(r.URL)), send)
}

// breakerKey 按主机区分熔断器，相对路径归入 BaseURL 的主机。
func (p *Pipeline) breakerKey(rawURL string) string {
	if host := xtransport.HostOf(rawURL); host != "" {
		return host
	}
	if p.baseHost != "" {
		return p.baseHost
	}
	return defaultBreakerKey
}

// renewalFailure 凭证无法续期视为会话过期；调用方 ctx 结束则按取消或超时处理。
func (p *Pipeline) renewalFailure(ctx context.Context, cause error) *xfault.NormalizedError {
	if err := ctx.Err(); err != nil {
		return p.faults.ClassifyContext(ctx, err)
	}
	return p.faults.NewError(ctx, xfault.CategoryAuthentication, CodeSessionExpired, sessionExpiredMessage, cause)
}

// report 终止失败交给错误中心处理，每次调用最多一次。
func (p *Pipeline) report(ctx context.Context, ne *xfault.NormalizedError, c *call) *xfault.NormalizedError {
	res := p.faults.Handle(ctx, ne, c.hctx)
	p.logger.DebugContext(ctx, "xpipeline: call failed",
		slog.String(xctx.KeyRequestID, xctx.RequestID(ctx)),
		slog.String("category", ne.Category.String()),
		slog.String("action", res.Action.String()),
	)
	return ne
}
