package xfault

import "context"

// Action 处理结果动作。
type Action int

const (
	// ActionNone 无动作。
	ActionNone Action = iota
	// ActionNotified 已通知用户。
	ActionNotified
	// ActionLogout 已通知并安排强制登出。
	ActionLogout
	// ActionSuppressed 登出进行中，通知与登出均被抑制。
	ActionSuppressed
	// ActionCustom 由自定义处理器处理。
	ActionCustom
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionNotified:
		return "notified"
	case ActionLogout:
		return "logout"
	case ActionSuppressed:
		return "suppressed"
	case ActionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// HandleContext 失败发生时的调用信息。
type HandleContext struct {
	// Method/URL 失败请求。
	Method string
	URL    string

	// Public 请求是否在免认证名单内，免认证请求的认证失败只提示不登出。
	Public bool

	// Silent 只记录不通知。
	Silent bool
}

// Result 处理结果。
type Result struct {
	// Handled 是否已被处理。处理器报错或 panic 时为 false。
	Handled bool
	Action  Action
	// Message 实际展示给用户的文案。
	Message string
	// Err 处理器失败原因。
	Err error
	// Error 被处理的标准化错误。
	Error *NormalizedError
}

// Handler 类别处理器。
//
// 返回 Handled=false 表示不处理，交给下一级；返回 error 或 panic 视为处理失败。
// 处理器不得修改 NormalizedError。
type Handler interface {
	Handle(ctx context.Context, err *NormalizedError, hctx HandleContext) (Result, error)
}

// HandlerFunc 函数适配器。
type HandlerFunc func(ctx context.Context, err *NormalizedError, hctx HandleContext) (Result, error)

// Handle 实现 [Handler]。
func (f HandlerFunc) Handle(ctx context.Context, err *NormalizedError, hctx HandleContext) (Result, error) {
	return f(ctx, err, hctx)
}

// Notifier 用户通知。
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// NotifierFunc 函数适配器。
type NotifierFunc func(ctx context.Context, message string, severity Severity)

// Notify 实现 [Notifier]。
func (f NotifierFunc) Notify(ctx context.Context, message string, severity Severity) {
	f(ctx, message, severity)
}

// Session 会话协作者。
type Session interface {
	// IsLoggingOut 是否正在主动登出。
	IsLoggingOut() bool
	// Logout 强制登出。
	Logout(ctx context.Context) error
}
