package xclient

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/observability/xmetrics"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

// Option 客户端选项，用于注入协作方。
type Option func(*options)

type options struct {
	sender     xtransport.Sender
	store      xauth.CredentialStore
	credential *xauth.Credential
	refresher  xauth.Refresher
	redis      redis.UniversalClient
	notifier   xfault.Notifier
	session    xfault.Session
	logger     *slog.Logger
	observer   xmetrics.Observer
}

// WithSender 替换默认的 HTTP 传输。
func WithSender(s xtransport.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithStore 使用自定义凭证存储。
func WithStore(s xauth.CredentialStore) Option {
	return func(o *options) { o.store = s }
}

// WithCredential 内存存储的初始凭证。
func WithCredential(c *xauth.Credential) Option {
	return func(o *options) { o.credential = c }
}

// WithRefresher 使用自定义刷新器，优先于 auth.refresh_url。
func WithRefresher(r xauth.Refresher) Option {
	return func(o *options) { o.refresher = r }
}

// WithRedis 使用已有的 Redis 客户端存储凭证，客户端的关闭由调用方负责。
func WithRedis(rc redis.UniversalClient) Option {
	return func(o *options) { o.redis = rc }
}

// WithNotifier 设置用户通知。
func WithNotifier(n xfault.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithSession 设置会话控制，用于强制登出。
func WithSession(s xfault.Session) Option {
	return func(o *options) { o.session = s }
}

// WithLogger 设置日志记录器，优先于 log 配置。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver 设置可观测性接口，优先于 otel 配置。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) { o.observer = obs }
}
