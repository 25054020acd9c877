package xretry

import (
	"errors"
	"fmt"
)

var (
	// ErrNilManager 管理器为 nil。
	ErrNilManager = errors.New("xretry: nil manager")

	// ErrNilFunc 操作函数为 nil。
	ErrNilFunc = errors.New("xretry: nil function")

	// ErrNilContext context 为 nil。
	ErrNilContext = errors.New("xretry: nil context")

	// ErrInvalidPolicy 策略无效。
	ErrInvalidPolicy = errors.New("xretry: invalid policy")
)

// RetryableError 显式声明是否可重试的错误。
type RetryableError interface {
	error
	Retryable() bool
}

// ExhaustedError 重试耗尽后的最终错误。
type ExhaustedError struct {
	// Err 最后一次尝试的错误。
	Err error
	// TotalAttempts 总尝试次数（首次 + 重试）。
	TotalAttempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("xretry: exhausted after %d attempts: %v", e.TotalAttempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryError 标记该错误来自重试耗尽。
func (e *ExhaustedError) IsRetryError() bool {
	return true
}

// AttemptsOf 返回 err 链上的总尝试次数，非重试耗尽错误返回 0。
func AttemptsOf(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.TotalAttempts
	}
	return 0
}
