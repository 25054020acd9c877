package xrun

import (
	"errors"
	"os"
)

var (
	// ErrSignal 因系统信号退出，通过 errors.Is 判断。
	ErrSignal = errors.New("xrun: received signal")

	// ErrNilFunc 服务函数为 nil。
	ErrNilFunc = errors.New("xrun: nil func")

	// ErrInvalidInterval Ticker 间隔必须为正。
	ErrInvalidInterval = errors.New("xrun: interval must be positive")
)

// SignalError 携带触发退出的信号。
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	if e.Signal == nil {
		return "xrun: received signal <nil>"
	}
	return "xrun: received signal " + e.Signal.String()
}

func (e *SignalError) Unwrap() error {
	return ErrSignal
}
