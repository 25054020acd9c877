package xclient

import "errors"

var (
	// ErrInvalidConfig 配置校验失败。
	ErrInvalidConfig = errors.New("xclient: invalid config")

	// ErrAuthDisabled 未配置刷新器，客户端不管理凭证。
	ErrAuthDisabled = errors.New("xclient: authentication is not configured")
)
