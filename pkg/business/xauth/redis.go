package xauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// RedisStore 实现
// =============================================================================

// DefaultRetention 凭证过期后在 Redis 中的保留时长，用于保留刷新令牌。
const DefaultRetention = 24 * time.Hour

// RedisStore 基于 Redis 的凭证存储，多实例共享同一凭证。
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	retention time.Duration
	now       func() time.Time
}

// RedisOption Redis 存储选项。
type RedisOption func(*RedisStore)

// WithKey 设置凭证 key，默认 "xauth:credential"。
func WithKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithRetention 设置过期后的保留时长，0 表示到期即删除。
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewRedisStore 创建 Redis 存储。
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilRedisClient
	}
	s := &RedisStore{
		client:    client,
		key:       "xauth:credential",
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Key 返回凭证 key。
func (s *RedisStore) Key() string {
	return s.key
}

// Token 实现 [CredentialStore]。
func (s *RedisStore) Token(ctx context.Context) (*Credential, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("xauth: redis get failed: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("xauth: unmarshal credential failed: %w", err)
	}
	return &cred, nil
}

// SetToken 实现 [CredentialStore]。
// TTL 为距过期的时长加保留时长；过期时间未知时不设置 TTL。nil 表示删除。
func (s *RedisStore) SetToken(ctx context.Context, cred *Credential) error {
	if cred == nil {
		if err := s.client.Del(ctx, s.key).Err(); err != nil {
			return fmt.Errorf("xauth: redis del failed: %w", err)
		}
		return nil
	}

	now := s.now()
	cp := cred.Clone()
	cp.normalize(now)

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("xauth: marshal credential failed: %w", err)
	}

	var ttl time.Duration
	if !cp.ExpiresAt.IsZero() {
		ttl = cp.ExpiresAt.Sub(now) + s.retention
		if ttl <= 0 {
			// 已过期且不保留
			return s.SetToken(ctx, nil)
		}
	}
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("xauth: redis set failed: %w", err)
	}
	return nil
}

// CheckExpiration 实现 [CredentialStore]。
func (s *RedisStore) CheckExpiration(ctx context.Context, threshold time.Duration) (ExpirationStatus, error) {
	cred, err := s.Token(ctx)
	if errors.Is(err, ErrNoCredential) {
		return ExpirationStatus{}, nil
	}
	if err != nil {
		return ExpirationStatus{}, err
	}
	return expirationOf(cred, s.now(), threshold), nil
}
