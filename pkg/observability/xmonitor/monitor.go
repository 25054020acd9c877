package xmonitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// DefaultSlowThreshold 默认慢请求阈值。
const DefaultSlowThreshold = 3 * time.Second

var (
	// ErrEmptyID 请求 ID 为空。
	ErrEmptyID = errors.New("xmonitor: empty request id")

	// ErrDuplicateID 请求 ID 已在计时中。
	ErrDuplicateID = errors.New("xmonitor: duplicate request id")
)

// Record 一次调用的计时记录。
type Record struct {
	ID       string
	Method   string
	URL      string
	Start    time.Time
	Duration time.Duration
	Status   int
	Err      error
	Slow     bool
}

// Succeeded 报告调用是否成功（无错误且状态码 < 400）。
func (r Record) Succeeded() bool {
	return r.Err == nil && r.Status < http.StatusBadRequest
}

// Stats 监控统计快照。
type Stats struct {
	Total       int64
	Active      int64
	Succeeded   int64
	Failed      int64
	Slow        int64
	Throttled   int64
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// SuccessRate 已完成调用的成功率，无数据时返回 0。
func (s Stats) SuccessRate() float64 {
	done := s.Succeeded + s.Failed
	if done == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(done)
}

// Option 监控选项。
type Option func(*Monitor)

// WithSlowThreshold 设置慢请求阈值。
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor 请求监控器，并发安全。
type Monitor struct {
	slowThreshold time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu          sync.Mutex
	inflight    map[string]*Record
	total       int64
	succeeded   int64
	failed      int64
	slow        int64
	throttled   int64
	sumDuration time.Duration
	maxDuration time.Duration
}

// New 创建监控器。
func New(opts ...Option) *Monitor {
	m := &Monitor{
		slowThreshold: DefaultSlowThreshold,
		logger:        slog.Default(),
		now:           time.Now,
		inflight:      make(map[string]*Record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start 开始计时。同一 ID 不能重复开始。
func (m *Monitor) Start(id, method, url string) error {
	if id == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; ok {
		return ErrDuplicateID
	}
	m.inflight[id] = &Record{ID: id, Method: method, URL: url, Start: m.now()}
	m.total++
	return nil
}

// End 结束计时并计入统计。ID 不在计时中时返回 false。
func (m *Monitor) End(ctx context.Context, id string, status int, err error) (Record, bool) {
	m.mu.Lock()
	rec, ok := m.inflight[id]
	if !ok {
		m.mu.Unlock()
		return Record{}, false
	}
	delete(m.inflight, id)

	rec.Duration = m.now().Sub(rec.Start)
	rec.Status = status
	rec.Err = err
	rec.Slow = rec.Duration >= m.slowThreshold

	if rec.Succeeded() {
		m.succeeded++
	} else {
		m.failed++
	}
	if rec.Slow {
		m.slow++
	}
	if status == http.StatusTooManyRequests {
		m.throttled++
	}
	m.sumDuration += rec.Duration
	m.maxDuration = max(m.maxDuration, rec.Duration)
	out := *rec
	m.mu.Unlock()

	if out.Slow {
		m.logger.WarnContext(ctx, "xmonitor: slow request",
			slog.String("request_id", out.ID),
			slog.String("method", out.Method),
			slog.String("url", out.URL),
			slog.Duration("duration", out.Duration),
			slog.Int("status", out.Status),
		)
	}
	return out, true
}

// Active 返回进行中的记录，按开始时间排序。
func (m *Monitor) Active() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.inflight))
	for _, r := range m.inflight {
		out = append(out, *r)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Record) int { return a.Start.Compare(b.Start) })
	return out
}

// Stats 返回统计快照。
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Total:       m.total,
		Active:      int64(len(m.inflight)),
		Succeeded:   m.succeeded,
		Failed:      m.failed,
		Slow:        m.slow,
		Throttled:   m.throttled,
		MaxDuration: m.maxDuration,
	}
	if done := m.succeeded + m.failed; done > 0 {
		s.AvgDuration = m.sumDuration / time.Duration(done)
	}
	return s
}

// Reset 清零计数器，进行中的计时保留。
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = int64(len(m.inflight))
	m.succeeded, m.failed, m.slow, m.throttled = 0, 0, 0, 0
	m.sumDuration, m.maxDuration = 0, 0
}
