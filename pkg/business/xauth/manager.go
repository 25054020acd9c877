package xauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xclient/pkg/context/xctx"
	"github.com/omeyang/xclient/pkg/observability/xmetrics"
)

const (
	// DefaultRefreshThreshold 过期前多久开始刷新。
	DefaultRefreshThreshold = 5 * time.Minute

	// DefaultCheckInterval 后台检查间隔。
	DefaultCheckInterval = time.Minute

	// DefaultRefreshTimeout 单次刷新的超时。
	DefaultRefreshTimeout = 15 * time.Second
)

// State 刷新状态。
type State int

const (
	// StateIdle 没有进行中的刷新。
	StateIdle State = iota
	// StateRefreshing 有一次刷新正在进行。
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// result 一次刷新的结果，写入每个等待者的结果槽。
type result struct {
	cred *Credential
	err  error
}

// Stats 刷新统计。
type Stats struct {
	// Refreshes 发起的刷新次数。
	Refreshes int64
	Succeeded int64
	Failed    int64
	// Joined 加入已有刷新而未自行发起的调用次数。
	Joined int64

	Refreshing    bool
	Waiting       int
	LastRefreshAt time.Time
}

// SuccessRate 刷新成功率，没有完成的刷新时返回 1。
func (s Stats) SuccessRate() float64 {
	done := s.Succeeded + s.Failed
	if done == 0 {
		return 1
	}
	return float64(s.Succeeded) / float64(done)
}

// =============================================================================
// 选项
// =============================================================================

// Option 管理器选项。
type Option func(*Manager)

// WithThreshold 设置提前刷新阈值。
func WithThreshold(d time.Duration) Option {
	return func(m *Manager) {
		m.threshold = d
	}
}

// WithCheckInterval 设置后台检查间隔。
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// WithRefreshTimeout 设置单次刷新超时。
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithLogger 设置日志记录器，nil 使用 slog.Default()。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver 设置可观测性接口。
func WithObserver(o xmetrics.Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// =============================================================================
// Manager
// =============================================================================

// Manager 保证任意时刻最多一次进行中的凭证刷新。
//
// 刷新进行中到达的调用者在 FIFO 队列中排队，刷新结束时在同一个临界区内
// 按入队顺序收到同一结果（同一令牌或同一个 *RefreshError）。
// 刷新在独立的 goroutine 中以 [DefaultRefreshTimeout] 运行，不受发起者 ctx 取消影响；
// 调用者 ctx 结束只会停止等待。
type Manager struct {
	store     CredentialStore
	refresher Refresher
	logger    *slog.Logger
	observer  xmetrics.Observer
	now       func() time.Time

	threshold      time.Duration
	checkInterval  time.Duration
	refreshTimeout time.Duration

	mu         sync.Mutex
	refreshing bool
	waiters    []chan result
	// generation 每次刷新结束递增，用于发现读取凭证期间已完成的刷新。
	generation uint64

	refreshes atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	joined    atomic.Int64
	lastAt    atomic.Int64

	inflight sync.WaitGroup

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewManager 创建刷新管理器。
func NewManager(store CredentialStore, refresher Refresher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if refresher == nil {
		return nil, ErrNilRefresher
	}
	m := &Manager{
		store:          store,
		refresher:      refresher,
		logger:         slog.Default(),
		observer:       xmetrics.NoopObserver{},
		now:            time.Now,
		threshold:      DefaultRefreshThreshold,
		checkInterval:  DefaultCheckInterval,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.threshold < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, m.threshold)
	}
	return m, nil
}

// Store 返回凭证存储。
func (m *Manager) Store() CredentialStore {
	return m.store
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshing {
		return StateRefreshing
	}
	return StateIdle
}

// GetValidToken 返回可用的访问令牌。
//
// 空闲且令牌在阈值之外时立即返回；令牌临近过期时发起刷新；
// 已有刷新进行中时排队等待其结果。没有凭证时返回 [ErrNoCredential]。
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	return m.obtain(ctx, triggerExpiry, func(cred *Credential) (bool, error) {
		if cred == nil {
			return false, ErrNoCredential
		}
		return cred.ExpiringSoon(m.now(), m.threshold), nil
	})
}

// ForceRefresh 忽略过期检查发起刷新；已有刷新进行中时加入该刷新。
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.obtain(ctx, triggerForce, func(*Credential) (bool, error) {
		return true, nil
	})
}

// RenewRejected 在令牌被服务端拒绝（401）后获取新令牌。
//
// 已有刷新进行中时加入；存储中的令牌已不同于 rejected（其他调用者已刷新）时直接返回；
// 否则发起刷新。
func (m *Manager) RenewRejected(ctx context.Context, rejected string) (string, error) {
	return m.obtain(ctx, triggerRejected, func(cred *Credential) (bool, error) {
		if cred == nil {
			return false, ErrNoCredential
		}
		if cred.AccessToken != rejected && cred.Valid(m.now()) {
			return false, nil
		}
		return true, nil
	})
}

// obtain 单飞核心：读取凭证后在锁内决定返回、加入或发起刷新。
func (m *Manager) obtain(ctx context.Context, trigger string, needsRefresh func(*Credential) (bool, error)) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		m.mu.Lock()
		gen := m.generation
		if m.refreshing {
			slot := m.enqueueLocked()
			m.mu.Unlock()
			m.joined.Add(1)
			return m.wait(ctx, slot)
		}
		m.mu.Unlock()

		cred, err := m.store.Token(ctx)
		if err != nil && !errors.Is(err, ErrNoCredential) {
			return "", err
		}
		if err != nil {
			cred = nil
		}

		refresh, err := needsRefresh(cred)

		m.mu.Lock()
		if m.refreshing {
			slot := m.enqueueLocked()
			m.mu.Unlock()
			m.joined.Add(1)
			return m.wait(ctx, slot)
		}
		if m.generation != gen {
			// 读取期间有刷新完成，重新读取
			m.mu.Unlock()
			continue
		}
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
		if !refresh {
			m.mu.Unlock()
			return cred.AccessToken, nil
		}
		m.beginLocked(ctx, cred, trigger)
		slot := m.enqueueLocked()
		m.mu.Unlock()
		return m.wait(ctx, slot)
	}
}

func (m *Manager) enqueueLocked() chan result {
	slot := make(chan result, 1)
	m.waiters = append(m.waiters, slot)
	return slot
}

func (m *Manager) wait(ctx context.Context, slot <-chan result) (string, error) {
	select {
	case r := <-slot:
		if r.err != nil {
			return "", r.err
		}
		return r.cred.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// beginLocked 切换到 Refreshing 并在独立 goroutine 中发起刷新。
func (m *Manager) beginLocked(ctx context.Context, current *Credential, trigger string) {
	m.refreshing = true
	m.refreshes.Add(1)
	m.inflight.Add(1)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	go func() {
		defer m.inflight.Done()
		defer cancel()
		cred, err := m.refresh(rctx, current, trigger)
		m.settle(rctx, cred, err)
	}()
}

func (m *Manager) refresh(ctx context.Context, current *Credential, trigger string) (cred *Credential, err error) {
	ctx, span := xmetrics.Start(ctx, m.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpRefresh,
		Kind:      xmetrics.KindClient,
		Attrs:     []xmetrics.Attr{xmetrics.String(MetricsAttrTrigger, trigger)},
	})
	defer func() {
		if p := recover(); p != nil {
			cred, err = nil, &RefreshError{Err: fmt.Errorf("xauth: refresher panicked: %v", p)}
		}
		span.End(xmetrics.Result{Err: err})
	}()

	next, err := m.refresher.Refresh(ctx, current.Clone())
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	if next == nil || next.AccessToken == "" {
		return nil, &RefreshError{Err: ErrEmptyAccessToken}
	}
	next = next.Clone()
	next.normalize(m.now())
	if err := m.store.SetToken(ctx, next); err != nil {
		return nil, &RefreshError{Err: fmt.Errorf("xauth: store credential: %w", err)}
	}
	return next, nil
}

// settle 回到 Idle，并在同一临界区内按入队顺序写入所有结果槽后清空队列。
func (m *Manager) settle(ctx context.Context, cred *Credential, err error) {
	if err != nil {
		m.failed.Add(1)
	} else {
		m.succeeded.Add(1)
		m.lastAt.Store(m.now().UnixNano())
	}

	res := result{cred: cred, err: err}
	m.mu.Lock()
	waiters := m.waiters
	for _, slot := range waiters {
		slot <- res
	}
	m.waiters = nil
	m.refreshing = false
	m.generation++
	m.mu.Unlock()

	if err != nil {
		m.logger.WarnContext(ctx, "xauth: credential refresh failed",
			slog.Int("waiters", len(waiters)),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.InfoContext(ctx, "xauth: credential refreshed",
		slog.Int("waiters", len(waiters)),
		slog.Time("expires_at", cred.ExpiresAt),
		slog.String(xctx.KeyRequestID, xctx.RequestID(ctx)),
	)
}

// Stats 返回统计快照。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	refreshing := m.refreshing
	waiting := len(m.waiters)
	m.mu.Unlock()

	s := Stats{
		Refreshes:  m.refreshes.Load(),
		Succeeded:  m.succeeded.Load(),
		Failed:     m.failed.Load(),
		Joined:     m.joined.Load(),
		Refreshing: refreshing,
		Waiting:    waiting,
	}
	if ns := m.lastAt.Load(); ns != 0 {
		s.LastRefreshAt = time.Unix(0, ns)
	}
	return s
}

// ResetStats 清零计数器。
func (m *Manager) ResetStats() {
	m.refreshes.Store(0)
	m.succeeded.Store(0)
	m.failed.Store(0)
	m.joined.Store(0)
	m.lastAt.Store(0)
}
