package xretry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/omeyang/xclient/pkg/context/xctx"
)

// Timer 控制重试等待，测试中可替换为立即触发的实现。
type Timer = retry.Timer

// AttemptRecord 一次执行中的重试状态快照。
type AttemptRecord struct {
	// ID 请求 ID（来自 context），缺失时为内部序号。
	ID string
	// Attempt 已执行的重试次数。
	Attempt int
	// LastError 最近一次失败。
	LastError error
	// NextDelay 下一次等待时长。
	NextDelay time.Duration
	// StartedAt 首次尝试时间。
	StartedAt time.Time
}

// Stats 重试统计快照。
type Stats struct {
	// Operations 执行过的操作数。
	Operations int64
	// Attempted 累计执行的重试次数。
	Attempted int64
	// SucceededAfterRetry 至少重试一次后成功的操作数。
	SucceededAfterRetry int64
	// FailedAfterRetry 至少重试一次后仍失败的操作数。
	FailedAfterRetry int64
	// Active 正在进行中的操作记录。
	Active []AttemptRecord
}

// SuccessRate 发生过重试的操作中最终成功的比例，无数据时返回 0。
func (s Stats) SuccessRate() float64 {
	total := s.SucceededAfterRetry + s.FailedAfterRetry
	if total == 0 {
		return 0
	}
	return float64(s.SucceededAfterRetry) / float64(total)
}

// Option 管理器选项。
type Option func(*Manager)

// WithPolicy 设置默认策略。
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithLogger 设置日志记录器，nil 时使用 slog.Default()。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimer 设置等待计时器。
func WithTimer(t Timer) Option {
	return func(m *Manager) {
		if t != nil {
			m.timer = t
		}
	}
}

// Manager 重试管理器，并发安全。
type Manager struct {
	mu     sync.RWMutex
	policy Policy

	logger *slog.Logger
	timer  Timer

	operations          atomic.Int64
	attempted           atomic.Int64
	succeededAfterRetry atomic.Int64
	failedAfterRetry    atomic.Int64

	activeMu sync.Mutex
	active   map[string]*AttemptRecord
	seq      atomic.Uint64
}

// NewManager 创建管理器，默认策略为 [DefaultPolicy]。
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		policy: DefaultPolicy(),
		logger: slog.Default(),
		active: make(map[string]*AttemptRecord),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Policy 返回默认策略。
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// SetPolicy 替换默认策略（用于配置热更新），只影响之后开始的操作。
func (m *Manager) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
	return nil
}

// Do 以重试方式执行 fn。override 为 nil 时使用默认策略。
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error, override *Policy) error {
	if fn == nil {
		return ErrNilFunc
	}
	_, err := Execute(ctx, m, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, override)
	return err
}

// run 单次执行的状态，retry-go 串行调用其回调。
type run struct {
	id       string
	policy   Policy
	attempts int
	retries  int
	record   *AttemptRecord
}

// Execute 以重试方式执行 fn 并返回结果。
//
// 每次尝试的 ctx 都带有当前尝试序号（xctx.Attempt）。
// 重试预算用尽时返回 [*ExhaustedError]；因错误不可重试而停止时返回原始错误。
// ctx 在等待期间结束时立即返回，正在进行中的尝试不会被中断。
func Execute[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error), override *Policy) (T, error) {
	var zero T
	if m == nil {
		return zero, ErrNilManager
	}
	if ctx == nil {
		return zero, ErrNilContext
	}
	if fn == nil {
		return zero, ErrNilFunc
	}

	policy := m.Policy()
	if override != nil {
		policy = *override
	}
	policy = policy.normalized()

	r := m.begin(ctx, policy)
	defer m.finish(r)

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(policy.MaxRetries) + 1), //nolint:gosec // normalized 保证非负
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			return ShouldRetry(err, r.retries, policy)
		}),
		retry.DelayType(func(_ uint, err error, _ retry.DelayContext) time.Duration {
			r.retries++
			d := Delay(policy, r.retries)
			m.beforeWait(ctx, r, err, d)
			return d
		}),
		retry.LastErrorOnly(true),
	}
	if m.timer != nil {
		opts = append(opts, retry.WithTimer(m.timer))
	}

	result, err := retry.NewWithData[T](opts...).Do(func() (T, error) {
		r.attempts++
		res, err := fn(xctx.WithAttempt(ctx, r.attempts))
		if err != nil {
			m.recordFailure(r, err)
		}
		return res, err
	})

	if r.retries > 0 {
		if err == nil {
			m.succeededAfterRetry.Add(1)
		} else {
			m.failedAfterRetry.Add(1)
		}
	}
	if err != nil && ctx.Err() == nil && policy.MaxRetries > 0 && r.attempts > policy.MaxRetries {
		m.logger.WarnContext(ctx, "xretry: retries exhausted",
			slog.Int("attempts", r.attempts),
			slog.String("error", err.Error()),
		)
		return result, &ExhaustedError{Err: err, TotalAttempts: r.attempts}
	}
	return result, err
}

func (m *Manager) begin(ctx context.Context, policy Policy) *run {
	m.operations.Add(1)
	id := xctx.RequestID(ctx)
	if id == "" {
		id = "op-" + strconv.FormatUint(m.seq.Add(1), 10)
	}
	return &run{
		id:     id,
		policy: policy,
		record: &AttemptRecord{ID: id, StartedAt: time.Now()},
	}
}

func (m *Manager) recordFailure(r *run, err error) {
	m.activeMu.Lock()
	r.record.LastError = err
	m.activeMu.Unlock()
}

// beforeWait 在每次等待前登记记录、计数并触发 OnRetry。
func (m *Manager) beforeWait(ctx context.Context, r *run, err error, d time.Duration) {
	m.attempted.Add(1)

	m.activeMu.Lock()
	r.record.Attempt = r.retries
	r.record.NextDelay = d
	m.active[r.id] = r.record
	m.activeMu.Unlock()

	m.logger.DebugContext(ctx, "xretry: retrying",
		slog.Int("retry", r.retries),
		slog.Duration("delay", d),
		slog.String("condition", string(ConditionOf(err))),
		slog.String("error", err.Error()),
	)

	if r.policy.OnRetry != nil {
		m.invokeOnRetry(ctx, r.policy.OnRetry, err, r.retries, d)
	}
}

func (m *Manager) invokeOnRetry(ctx context.Context, fn func(error, int, time.Duration), err error, attempt int, d time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.ErrorContext(ctx, "xretry: on_retry callback panicked",
				slog.String("panic", fmt.Sprint(p)),
			)
		}
	}()
	fn(err, attempt, d)
}

func (m *Manager) finish(r *run) {
	m.activeMu.Lock()
	if cur, ok := m.active[r.id]; ok && cur == r.record {
		delete(m.active, r.id)
	}
	m.activeMu.Unlock()
}

// Stats 返回统计快照。
func (m *Manager) Stats() Stats {
	m.activeMu.Lock()
	records := slices.Collect(maps.Values(m.active))
	active := make([]AttemptRecord, 0, len(records))
	for _, rec := range records {
		active = append(active, *rec)
	}
	m.activeMu.Unlock()

	slices.SortFunc(active, func(a, b AttemptRecord) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return Stats{
		Operations:          m.operations.Load(),
		Attempted:           m.attempted.Load(),
		SucceededAfterRetry: m.succeededAfterRetry.Load(),
		FailedAfterRetry:    m.failedAfterRetry.Load(),
		Active:              active,
	}
}

// Reset 清零计数器，不影响进行中的记录。
func (m *Manager) Reset() {
	m.operations.Store(0)
	m.attempted.Store(0)
	m.succeededAfterRetry.Store(0)
	m.failedAfterRetry.Store(0)
}
