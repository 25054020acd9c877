package xauth

import (
	"errors"
	"fmt"
)

// =============================================================================
// 配置错误
// =============================================================================

var (
	// ErrNilStore 凭证存储为 nil。
	ErrNilStore = errors.New("xauth: nil credential store")

	// ErrNilRefresher 刷新器为 nil。
	ErrNilRefresher = errors.New("xauth: nil refresher")

	// ErrNilSender 传输层为 nil。
	ErrNilSender = errors.New("xauth: nil sender")

	// ErrNilRedisClient Redis 客户端为 nil。
	ErrNilRedisClient = errors.New("xauth: nil redis client")

	// ErrMissingRefreshURL 刷新地址未配置。
	ErrMissingRefreshURL = errors.New("xauth: missing refresh url")

	// ErrInvalidThreshold 刷新阈值无效。
	ErrInvalidThreshold = errors.New("xauth: invalid refresh threshold")
)

// =============================================================================
// 凭证错误
// =============================================================================

var (
	// ErrNoCredential 存储中没有凭证。
	ErrNoCredential = errors.New("xauth: no credential")

	// ErrNoRefreshToken 凭证缺少刷新令牌。
	ErrNoRefreshToken = errors.New("xauth: no refresh token")

	// ErrEmptyAccessToken 刷新结果缺少访问令牌。
	ErrEmptyAccessToken = errors.New("xauth: empty access token")

	// ErrRefreshFailed 刷新失败，所有等待者收到同一个错误。
	ErrRefreshFailed = errors.New("xauth: refresh failed")

	// ErrAlreadyStarted 后台检查已启动。
	ErrAlreadyStarted = errors.New("xauth: background check already started")
)

// RefreshError 一次刷新的失败结果。
//
// 同一次刷新的所有等待者收到同一个 *RefreshError 实例。
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return ErrRefreshFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrRefreshFailed.Error(), e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}

// Retryable 刷新失败不自动重试。
func (e *RefreshError) Retryable() bool {
	return false
}
