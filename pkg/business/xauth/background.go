package xauth

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// =============================================================================
// 后台检查
// =============================================================================

// Start 启动后台检查，每个检查间隔在令牌临近过期且没有进行中的刷新时主动刷新。
func (m *Manager) Start() error {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+m.checkInterval.String(), func() {
		m.Check(context.Background())
	}); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	return nil
}

// Stop 停止后台检查，并等待进行中的刷新结束。
func (m *Manager) Stop() {
	m.cronMu.Lock()
	if m.cron != nil {
		<-m.cron.Stop().Done()
		m.cron = nil
	}
	m.cronMu.Unlock()
	m.inflight.Wait()
}

// Check 执行一次后台检查，返回是否发起了刷新。不等待刷新结果。
func (m *Manager) Check(ctx context.Context) bool {
	m.mu.Lock()
	gen, refreshing := m.generation, m.refreshing
	m.mu.Unlock()
	if refreshing {
		return false
	}

	st, err := m.store.CheckExpiration(ctx, m.threshold)
	if err != nil {
		m.logger.WarnContext(ctx, "xauth: expiration check failed", slog.String("error", err.Error()))
		return false
	}
	if !st.HasToken || (!st.Warning && !st.Expired) {
		return false
	}

	cred, err := m.store.Token(ctx)
	if err != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// 读取期间有刷新完成时 cred 中的刷新令牌可能已轮换，留给下一次检查。
	if m.refreshing || m.generation != gen || !cred.ExpiringSoon(m.now(), m.threshold) {
		return false
	}
	m.logger.DebugContext(ctx, "xauth: proactive refresh",
		slog.Duration("until_expiry", st.UntilExpiry),
		slog.Bool("expired", st.Expired),
	)
	m.beginLocked(ctx, cred, triggerBackground)
	return true
}
