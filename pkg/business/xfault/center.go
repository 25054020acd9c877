package xfault

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omeyang/xclient/pkg/util/xid"
)

const (
	// DefaultHistorySize 默认历史容量。
	DefaultHistorySize = 100

	// DefaultLogoutDelay 认证失败提示后到强制登出的默认间隔。
	DefaultLogoutDelay = time.Second

	systemErrorMessage = "A system error occurred while handling the request."
)

// Option 错误中心选项。
type Option func(*Center)

// WithNotifier 设置用户通知，nil 时退化为 Warn 日志。
func WithNotifier(n Notifier) Option {
	return func(c *Center) {
		c.notifier = n
	}
}

// WithSession 设置会话协作者。
func WithSession(s Session) Option {
	return func(c *Center) {
		c.session = s
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Center) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHistorySize 设置历史容量（> 0）。
func WithHistorySize(n int) Option {
	return func(c *Center) {
		c.historySize = n
	}
}

// WithLogoutDelay 设置强制登出延迟，0 表示立即（仍在独立 goroutine 中执行）。
func WithLogoutDelay(d time.Duration) Option {
	return func(c *Center) {
		if d >= 0 {
			c.logoutDelay = d
		}
	}
}

// WithIDGenerator 设置错误 ID 生成器。
func WithIDGenerator(g *xid.Generator) Option {
	return func(c *Center) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(c *Center) {
		if now != nil {
			c.now = now
		}
	}
}

// Center 错误中心：分类、分发与历史记录，并发安全。
type Center struct {
	mu       sync.RWMutex
	handlers map[Category]Handler
	global   Handler

	notifier    Notifier
	session     Session
	logger      *slog.Logger
	ids         *xid.Generator
	now         func() time.Time
	historySize int
	logoutDelay time.Duration

	history *lru.Cache[string, *NormalizedError]
	handled [len(categoryNames)]atomic.Int64

	logoutMu      sync.Mutex
	logoutTimer   *time.Timer
	logoutPending bool
	closed        bool
	logouts       sync.WaitGroup
}

// New 创建错误中心。
func New(opts ...Option) (*Center, error) {
	c := &Center{
		handlers:    make(map[Category]Handler),
		logger:      slog.Default(),
		now:         time.Now,
		historySize: DefaultHistorySize,
		logoutDelay: DefaultLogoutDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.historySize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHistorySize, c.historySize)
	}
	history, err := lru.New[string, *NormalizedError](c.historySize)
	if err != nil {
		return nil, fmt.Errorf("xfault: create history: %w", err)
	}
	c.history = history
	if c.ids == nil {
		ids, err := xid.NewGenerator()
		if err != nil {
			return nil, fmt.Errorf("xfault: create id generator: %w", err)
		}
		c.ids = ids
	}
	return c, nil
}

// =============================================================================
// 处理器注册
// =============================================================================

// Register 为类别注册处理器，覆盖已有注册。
func (c *Center) Register(category Category, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	c.mu.Lock()
	c.handlers[category] = h
	c.mu.Unlock()
	return nil
}

// Unregister 移除类别处理器。
func (c *Center) Unregister(category Category) {
	c.mu.Lock()
	delete(c.handlers, category)
	c.mu.Unlock()
}

// SetGlobal 设置全局兜底处理器，nil 表示移除。
func (c *Center) SetGlobal(h Handler) {
	c.mu.Lock()
	c.global = h
	c.mu.Unlock()
}

// =============================================================================
// 分发
// =============================================================================

// Handle 分类并处理失败。
//
// 分发顺序：类别处理器（Handled=true 时采用）→ 全局处理器（同上）→ 内置处理器。
// 自定义处理器返回错误或 panic 时，向用户展示通用的系统错误提示，
// 并返回 Handled=false 与原因，不再继续向下分发。
// 每次调用都会把标准化错误写入历史。
func (c *Center) Handle(ctx context.Context, failure any, hctx HandleContext) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	e := c.ClassifyContext(ctx, failure)
	c.history.Add(e.ID, e)
	if e.Category >= 0 && int(e.Category) < len(c.handled) {
		c.handled[e.Category].Add(1)
	}

	res := c.dispatch(ctx, e, hctx)
	res.Error = e

	level := slog.LevelWarn
	if e.Severity >= SeverityHigh {
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, "xfault: failure handled",
		slog.String("error_id", e.ID),
		slog.String("category", e.Category.String()),
		slog.String("severity", e.Severity.String()),
		slog.Int("status", e.Status),
		slog.String("code", e.Code),
		slog.String("message", e.Message),
		slog.String("action", res.Action.String()),
		slog.Bool("handled", res.Handled),
	)
	return res
}

func (c *Center) dispatch(ctx context.Context, e *NormalizedError, hctx HandleContext) Result {
	c.mu.RLock()
	h := c.handlers[e.Category]
	global := c.global
	c.mu.RUnlock()

	for _, handler := range []Handler{h, global} {
		if handler == nil {
			continue
		}
		res, err := c.invoke(ctx, handler, e, hctx)
		if err != nil {
			c.logger.ErrorContext(ctx, "xfault: handler failed",
				slog.String("error_id", e.ID),
				slog.String("category", e.Category.String()),
				slog.String("error", err.Error()),
			)
			c.notify(ctx, systemErrorMessage, SeverityHigh, hctx)
			return Result{Handled: false, Action: ActionNotified, Message: systemErrorMessage, Err: err}
		}
		if res.Handled {
			if res.Action == ActionNone {
				res.Action = ActionCustom
			}
			return res
		}
	}
	return c.builtin(ctx, e, hctx)
}

func (c *Center) invoke(ctx context.Context, h Handler, e *NormalizedError, hctx HandleContext) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h.Handle(ctx, e, hctx)
}

// notify 发送通知，通知方 panic 会被恢复。
func (c *Center) notify(ctx context.Context, msg string, sev Severity, hctx HandleContext) {
	if hctx.Silent {
		return
	}
	if c.notifier == nil {
		c.logger.WarnContext(ctx, "xfault: notification",
			slog.String("message", msg),
			slog.String("severity", sev.String()),
		)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.ErrorContext(ctx, "xfault: notifier panicked", slog.String("panic", fmt.Sprint(p)))
		}
	}()
	c.notifier.Notify(ctx, msg, sev)
}

// =============================================================================
// 强制登出
// =============================================================================

// scheduleLogout 延迟执行强制登出，同一时间最多一个待执行的登出。Close 之后不再安排。
func (c *Center) scheduleLogout(ctx context.Context) bool {
	if c.session == nil {
		c.logger.WarnContext(ctx, "xfault: no session configured, skip forced logout")
		return false
	}
	c.logoutMu.Lock()
	defer c.logoutMu.Unlock()
	if c.closed {
		return false
	}
	if c.logoutPending {
		return true
	}
	c.logoutPending = true
	c.logouts.Add(1)
	logoutCtx := context.WithoutCancel(ctx)
	c.logoutTimer = time.AfterFunc(c.logoutDelay, func() {
		defer c.logouts.Done()
		defer c.clearLogout()
		if c.session.IsLoggingOut() {
			return
		}
		if err := c.session.Logout(logoutCtx); err != nil {
			c.logger.ErrorContext(logoutCtx, "xfault: forced logout failed", slog.String("error", err.Error()))
		}
	})
	return true
}

func (c *Center) clearLogout() {
	c.logoutMu.Lock()
	c.logoutPending = false
	c.logoutTimer = nil
	c.logoutMu.Unlock()
}

// Close 取消尚未触发的强制登出，并等待正在执行的登出完成。可重复调用。
func (c *Center) Close() {
	c.logoutMu.Lock()
	c.closed = true
	if c.logoutTimer != nil && c.logoutTimer.Stop() {
		c.logouts.Done()
	}
	c.logoutPending = false
	c.logoutTimer = nil
	c.logoutMu.Unlock()
	c.logouts.Wait()
}

// =============================================================================
// 历史与统计
// =============================================================================

// History 返回历史记录，最新在前。
func (c *Center) History() []*NormalizedError {
	keys := c.history.Keys()
	out := make([]*NormalizedError, 0, len(keys))
	for _, k := range slices.Backward(keys) {
		if e, ok := c.history.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

// ClearHistory 清空历史。
func (c *Center) ClearHistory() {
	c.history.Purge()
}

// Stats 错误统计，由历史即时计算。
type Stats struct {
	Total      int
	ByCategory map[Category]int
	BySeverity map[Severity]int
	LastHour   int
	Latest     *NormalizedError

	// Handled 累计处理数，不受历史容量与 ClearHistory 影响。
	Handled map[Category]int64
}

// Stats 基于当前历史计算统计。
func (c *Center) Stats() Stats {
	history := c.History()
	s := Stats{
		Total:      len(history),
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
		Handled:    make(map[Category]int64, len(categoryNames)),
	}
	for _, cat := range Categories() {
		s.Handled[cat] = c.handled[cat].Load()
	}
	cutoff := c.now().Add(-time.Hour)
	for _, e := range history {
		s.ByCategory[e.Category]++
		s.BySeverity[e.Severity]++
		if e.Timestamp.After(cutoff) {
			s.LastHour++
		}
	}
	if len(history) > 0 {
		s.Latest = history[0]
	}
	return s
}

func (c *Center) nextID() string {
	id, err := c.ids.NextString()
	if err != nil {
		return xid.NewRequestID()
	}
	return id
}
