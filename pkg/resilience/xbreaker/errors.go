package xbreaker

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrNilBreaker 熔断器为 nil。
	ErrNilBreaker = errors.New("xbreaker: breaker cannot be nil")

	// ErrNilFunc 函数为 nil。
	ErrNilFunc = errors.New("xbreaker: function cannot be nil")

	// ErrOpenState 熔断器打开。
	ErrOpenState = gobreaker.ErrOpenState

	// ErrTooManyRequests 半开状态下请求数超限。
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// BreakerError 熔断拒绝错误，不可重试。
type BreakerError struct {
	Err   error
	Name  string
	State State
}

func (e *BreakerError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("xbreaker: %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("xbreaker: %v", e.Err)
}

func (e *BreakerError) Unwrap() error {
	return e.Err
}

// Retryable 熔断拒绝不应重试。
func (e *BreakerError) Retryable() bool {
	return false
}

// Timeout 熔断拒绝不是超时。
func (e *BreakerError) Timeout() bool {
	return false
}

// IsOpen 报告 err 是否为熔断拒绝。
func IsOpen(err error) bool {
	var be *BreakerError
	return errors.As(err, &be)
}

func wrapRejection(err error, name string, state State) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &BreakerError{Err: err, Name: name, State: state}
	}
	return err
}
