package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/observability/xmetrics"
	"github.com/omeyang/xclient/pkg/observability/xmonitor"
	"github.com/omeyang/xclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xpipeline"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// Client 组合根：持有各组件的唯一实例，并对外提供调用入口。
//
// 每个 Client 的状态彼此独立，不存在包级单例。
type Client struct {
	cfg    Config
	logger *slog.Logger

	sender   xtransport.Sender
	faults   *xfault.Center
	tokens   *xauth.Manager
	retry    *xretry.Manager
	monitor  *xmonitor.Monitor
	breakers *xbreaker.Group
	pipeline *xpipeline.Pipeline

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New 按配置创建客户端，opts 注入的协作方优先于配置。
func New(cfg Config, opts ...Option) (_ *Client, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Client{cfg: cfg}
	defer func() {
		if err != nil {
			err = errors.Join(err, c.Close())
		}
	}()

	c.logger = o.logger
	if c.logger == nil {
		l, cleanup, lerr := cfg.Log.NewLogger()
		if lerr != nil {
			return nil, lerr
		}
		c.logger = l
		c.closers = append(c.closers, cleanup)
	}

	observer := o.observer
	if observer == nil {
		observer = xmetrics.NoopObserver{}
		if cfg.OTel {
			if observer, err = xmetrics.NewOTelObserver(xmetrics.WithInstrumentationName("xclient")); err != nil {
				return nil, err
			}
		}
	}

	c.sender = o.sender
	if c.sender == nil {
		hs := xtransport.NewHTTPSender(xtransport.HTTPSenderConfig{
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Observer: observer,
		})
		c.closers = append(c.closers, func() error {
			hs.Client().CloseIdleConnections()
			return nil
		})
		c.sender = hs
	}

	if c.faults, err = xfault.New(
		xfault.WithNotifier(o.notifier),
		xfault.WithSession(o.session),
		xfault.WithLogger(c.logger),
		xfault.WithHistorySize(cfg.Errors.HistorySize),
		xfault.WithLogoutDelay(cfg.Errors.LogoutDelay),
	); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error {
		c.faults.Close()
		return nil
	})

	if c.tokens, err = c.newTokens(&o, observer); err != nil {
		return nil, err
	}

	c.retry = xretry.NewManager(xretry.WithPolicy(cfg.Retry), xretry.WithLogger(c.logger))
	c.monitor = xmonitor.New(
		xmonitor.WithSlowThreshold(cfg.Monitor.SlowThreshold),
		xmonitor.WithLogger(c.logger),
	)
	if cfg.Breaker.Enabled {
		c.breakers = xbreaker.NewGroup(
			xbreaker.WithConsecutiveFailures(cfg.Breaker.Failures),
			xbreaker.WithTimeout(cfg.Breaker.OpenTimeout),
			xbreaker.WithLogger(c.logger),
		)
	}

	popts := []xpipeline.Option{
		xpipeline.WithRetry(c.retry),
		xpipeline.WithMonitor(c.monitor),
		xpipeline.WithBreakers(c.breakers),
		xpipeline.WithObserver(observer),
		xpipeline.WithLogger(c.logger),
		xpipeline.WithPublicPaths(cfg.PublicPaths...),
		xpipeline.WithBaseURL(cfg.BaseURL),
	}
	if c.tokens != nil {
		popts = append(popts, xpipeline.WithTokens(c.tokens))
	}
	if c.pipeline, err = xpipeline.New(c.sender, c.faults, popts...); err != nil {
		return nil, err
	}
	return c, nil
}

// newTokens 没有可用的刷新器时返回 nil，客户端不附加凭证。
func (c *Client) newTokens(o *options, observer xmetrics.Observer) (*xauth.Manager, error) {
	refresher := o.refresher
	if refresher == nil && c.cfg.Auth.RefreshURL != "" {
		r, err := xauth.NewHTTPRefresher(c.sender, c.cfg.Auth.RefreshURL,
			xauth.WithClientID(c.cfg.Auth.ClientID),
			xauth.WithRequestTimeout(c.cfg.Auth.RefreshTimeout),
		)
		if err != nil {
			return nil, err
		}
		refresher = r
	}
	if refresher == nil {
		return nil, nil
	}

	store, err := c.newStore(o)
	if err != nil {
		return nil, err
	}
	return xauth.NewManager(store, refresher,
		xauth.WithThreshold(c.cfg.Auth.RefreshThreshold),
		xauth.WithCheckInterval(c.cfg.Auth.CheckInterval),
		xauth.WithRefreshTimeout(c.cfg.Auth.RefreshTimeout),
		xauth.WithLogger(c.logger),
		xauth.WithObserver(observer),
	)
}

func (c *Client) newStore(o *options) (xauth.CredentialStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	rc := o.redis
	if rc == nil && c.cfg.Redis.Addr != "" {
		owned := redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
		c.closers = append(c.closers, owned.Close)
		rc = owned
	}
	if rc == nil {
		return xauth.NewMemoryStore(o.credential), nil
	}
	store, err := xauth.NewRedisStore(rc,
		xauth.WithKey(c.cfg.Redis.Key),
		xauth.WithRetention(c.cfg.Redis.Retention),
	)
	if err != nil {
		return nil, err
	}
	if o.credential != nil {
		if err := store.SetToken(context.Background(), o.credential); err != nil {
			return nil, fmt.Errorf("xclient: seed credential: %w", err)
		}
	}
	return store, nil
}

// =============================================================================
// 调用
// =============================================================================

// Do 经完整管道执行一次调用，失败时返回 *xfault.NormalizedError。
func (c *Client) Do(ctx context.Context, req *xtransport.Request, opts ...xpipeline.CallOption) (*xtransport.Response, error) {
	return c.pipeline.Do(ctx, req, opts...)
}

// Get 发送 GET 请求。
func (c *Client) Get(ctx context.Context, url string, opts ...xpipeline.CallOption) (*xtransport.Response, error) {
	return c.Do(ctx, &xtransport.Request{Method: http.MethodGet, URL: url}, opts...)
}

// Post 发送 POST 请求。body 为 []byte 时原样发送，否则编码为 JSON。
func (c *Client) Post(ctx context.Context, url string, body any, opts ...xpipeline.CallOption) (*xtransport.Response, error) {
	req := &xtransport.Request{Method: http.MethodPost, URL: url, Header: make(http.Header)}
	switch b := body.(type) {
	case nil:
	case []byte:
		req.Body = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("xclient: encode body: %w", err)
		}
		req.Body = data
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(ctx, req, opts...)
}

// ExecuteWithRetry 在客户端的重试管理器下执行任意操作，不经过管道。
// fn 必须可以安全地重复调用；overrides 中的非零字段覆盖当前默认策略，nil 表示不覆盖。
func (c *Client) ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context) error, overrides *xretry.Policy) error {
	return c.retry.Do(ctx, fn, c.mergePolicy(overrides))
}

// SetRetryPolicy 替换默认重试策略，之后开始的调用生效。用于配置热更新。
func (c *Client) SetRetryPolicy(p xretry.Policy) error {
	return c.retry.SetPolicy(p)
}

// Execute 是带返回值的 [Client.ExecuteWithRetry]。
func Execute[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error), overrides *xretry.Policy) (T, error) {
	return xretry.Execute(ctx, c.retry, fn, c.mergePolicy(overrides))
}

func (c *Client) mergePolicy(overrides *xretry.Policy) *xretry.Policy {
	if overrides == nil {
		return nil
	}
	merged := c.retry.Policy().Merge(*overrides)
	return &merged
}

// =============================================================================
// 凭证与错误
// =============================================================================

// GetValidToken 返回可用的访问令牌。
func (c *Client) GetValidToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrAuthDisabled
	}
	return c.tokens.GetValidToken(ctx)
}

// ForceRefresh 立即刷新凭证。
func (c *Client) ForceRefresh(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrAuthDisabled
	}
	return c.tokens.ForceRefresh(ctx)
}

// Classify 将任意失败标准化，不记录也不通知。
func (c *Client) Classify(failure any) *xfault.NormalizedError {
	return c.faults.Classify(failure)
}

// Handle 将失败交给错误中心处理。
func (c *Client) Handle(ctx context.Context, failure any, hctx xfault.HandleContext) xfault.Result {
	return c.faults.Handle(ctx, failure, hctx)
}

// Faults 返回错误中心，用于注册处理器。
func (c *Client) Faults() *xfault.Center { return c.faults }

// Tokens 返回凭证管理器，未配置时为 nil。
func (c *Client) Tokens() *xauth.Manager { return c.tokens }

// Monitor 返回请求监控。
func (c *Client) Monitor() *xmonitor.Monitor { return c.monitor }

// Config 返回创建时的配置。
func (c *Client) Config() Config { return c.cfg }

// =============================================================================
// 统计
// =============================================================================

// Snapshot 各组件统计的即时快照。
type Snapshot struct {
	Requests xmonitor.Stats
	Retries  xretry.Stats
	Refresh  xauth.Stats
	Errors   xfault.Stats
	// Breakers 主机到熔断状态，未启用熔断时为空。
	Breakers map[string]xbreaker.State
}

// Stats 返回统计快照。
func (c *Client) Stats() Snapshot {
	s := Snapshot{
		Requests: c.monitor.Stats(),
		Retries:  c.retry.Stats(),
		Errors:   c.faults.Stats(),
	}
	if c.tokens != nil {
		s.Refresh = c.tokens.Stats()
	}
	if c.breakers != nil {
		s.Breakers = c.breakers.States()
	}
	return s
}

// ResetStats 清零请求、重试与刷新统计，并清空错误历史。
func (c *Client) ResetStats() {
	c.monitor.Reset()
	c.retry.Reset()
	if c.tokens != nil {
		c.tokens.ResetStats()
	}
	c.faults.ClearHistory()
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动后台凭证检查，未配置凭证管理时无操作。
func (c *Client) Start() error {
	if c.tokens == nil {
		return nil
	}
	if err := c.tokens.Start(); err != nil && !errors.Is(err, xauth.ErrAlreadyStarted) {
		return err
	}
	return nil
}

// Close 停止后台任务、取消待执行的登出并释放资源，可重复调用。
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.tokens != nil {
			c.tokens.Stop()
		}
		var errs []error
		for _, fn := range slices.Backward(c.closers) {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
