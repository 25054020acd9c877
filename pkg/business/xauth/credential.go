package xauth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// =============================================================================
// Credential 凭证
// =============================================================================

// Credential 访问凭证。
type Credential struct {
	// AccessToken 访问令牌。
	AccessToken string `json:"access_token"`

	// RefreshToken 刷新令牌（可选）。
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt 过期时间，零值表示未知（视为不过期）。
	ExpiresAt time.Time `json:"expires_at"`

	// ObtainedAt 获取时间。
	ObtainedAt time.Time `json:"obtained_at"`
}

// Valid 报告在 now 时刻凭证是否可用。
func (c *Credential) Valid(now time.Time) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// ExpiringSoon 报告凭证是否将在 threshold 内过期（含已过期）。
func (c *Credential) ExpiringSoon(now time.Time, threshold time.Duration) bool {
	if !c.Valid(now) {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) <= threshold
}

// Clone 返回副本。
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// JWTExpiry 不校验签名地读取 JWT 的 exp 声明。
// 非 JWT 或没有 exp 时返回 false。
func JWTExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// normalize 补齐 ObtainedAt，缺少 ExpiresAt 时尝试从 JWT 推导。
func (c *Credential) normalize(now time.Time) {
	if c.ObtainedAt.IsZero() {
		c.ObtainedAt = now
	}
	if c.ExpiresAt.IsZero() {
		if exp, ok := JWTExpiry(c.AccessToken); ok {
			c.ExpiresAt = exp
		}
	}
}

// =============================================================================
// CredentialStore 凭证存储
// =============================================================================

// ExpirationStatus 过期检查结果。
type ExpirationStatus struct {
	HasToken bool
	Expired  bool
	// Warning 在阈值内即将过期（未过期）。
	Warning     bool
	UntilExpiry time.Duration
}

// CredentialStore 凭证的持久化位置。实现必须并发安全。
type CredentialStore interface {
	// Token 返回当前凭证，没有时返回 ErrNoCredential。
	Token(ctx context.Context) (*Credential, error)

	// SetToken 保存凭证。
	SetToken(ctx context.Context, cred *Credential) error

	// CheckExpiration 检查当前凭证相对 threshold 的过期状态。
	CheckExpiration(ctx context.Context, threshold time.Duration) (ExpirationStatus, error)
}

// expirationOf 计算凭证的过期状态。
func expirationOf(cred *Credential, now time.Time, threshold time.Duration) ExpirationStatus {
	if cred == nil || cred.AccessToken == "" {
		return ExpirationStatus{}
	}
	st := ExpirationStatus{HasToken: true}
	if cred.ExpiresAt.IsZero() {
		return st
	}
	st.UntilExpiry = max(cred.ExpiresAt.Sub(now), 0)
	st.Expired = !now.Before(cred.ExpiresAt)
	st.Warning = !st.Expired && st.UntilExpiry <= threshold
	return st
}

// MemoryStore 进程内凭证存储。
type MemoryStore struct {
	mu   sync.RWMutex
	cred *Credential
	now  func() time.Time
}

// NewMemoryStore 创建内存存储，initial 可为 nil。
func NewMemoryStore(initial *Credential) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	if initial != nil {
		s.cred = initial.Clone()
		s.cred.normalize(s.now())
	}
	return s
}

// Token 实现 [CredentialStore]。
func (s *MemoryStore) Token(context.Context) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, ErrNoCredential
	}
	return s.cred.Clone(), nil
}

// SetToken 实现 [CredentialStore]。nil 表示清除。
func (s *MemoryStore) SetToken(_ context.Context, cred *Credential) error {
	var cp *Credential
	if cred != nil {
		cp = cred.Clone()
		cp.normalize(s.now())
	}
	s.mu.Lock()
	s.cred = cp
	s.mu.Unlock()
	return nil
}

// CheckExpiration 实现 [CredentialStore]。
func (s *MemoryStore) CheckExpiration(_ context.Context, threshold time.Duration) (ExpirationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expirationOf(s.cred, s.now(), threshold), nil
}
