package xrun

import (
	"log/slog"
	"os"
	"syscall"
)

// DefaultSignals 默认监听的退出信号，每次返回新切片。
func DefaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// Option 组选项。
type Option func(*options)

type options struct {
	logger  *slog.Logger
	name    string
	signals []os.Signal
	// source 替代 signal.Notify 的信号来源，测试使用
	source <-chan os.Signal
}

func defaultOptions() *options {
	return &options{logger: slog.Default(), name: "xrun"}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName 设置组名，出现在日志中。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithSignals 设置 [Run] 监听的信号，空列表使用 [DefaultSignals]。
func WithSignals(sigs ...os.Signal) Option {
	copied := append([]os.Signal(nil), sigs...)
	return func(o *options) {
		o.signals = copied
	}
}

func withSignalSource(c <-chan os.Signal) Option {
	return func(o *options) {
		o.source = c
	}
}
