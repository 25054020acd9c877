package xfault

import "errors"

var (
	// ErrUnknownCategory 无法解析的类别名。
	ErrUnknownCategory = errors.New("xfault: unknown category")

	// ErrUnknownSeverity 无法解析的严重级别名。
	ErrUnknownSeverity = errors.New("xfault: unknown severity")

	// ErrNilHandler 注册的处理器为 nil。
	ErrNilHandler = errors.New("xfault: nil handler")

	// ErrHandlerPanic 处理器 panic。
	ErrHandlerPanic = errors.New("xfault: handler panicked")

	// ErrInvalidHistorySize 历史容量无效。
	ErrInvalidHistorySize = errors.New("xfault: invalid history size")
)
