package xrun

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
)

// Group 基于 errgroup 运行一组服务，任一服务返回错误即取消其余服务。
//
// Go 可并发调用；Wait 只调用一次。
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	cause  context.Context
	cancel context.CancelCauseFunc
	opts   *options
}

// NewGroup 创建组，返回的 ctx 在任一服务失败或 Cancel 后结束。
func NewGroup(ctx context.Context, opts ...Option) (*Group, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	cause, cancel := context.WithCancelCause(ctx)
	eg, egCtx := errgroup.WithContext(cause)
	return &Group{eg: eg, ctx: egCtx, cause: cause, cancel: cancel, opts: o}, egCtx
}

// Go 启动匿名服务。
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.GoWithName("", fn)
}

// GoWithName 启动服务并在退出时按名称记录日志。
func (g *Group) GoWithName(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		err := fn(g.ctx)
		if name == "" {
			return err
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			g.opts.logger.Warn("xrun: service failed",
				slog.String("group", g.opts.name),
				slog.String("service", name),
				slog.String("error", err.Error()),
			)
		} else {
			g.opts.logger.Debug("xrun: service stopped",
				slog.String("group", g.opts.name),
				slog.String("service", name),
			)
		}
		return err
	})
}

// Cancel 以 cause 为原因取消组，Wait 会返回该原因。
func (g *Group) Cancel(cause error) {
	g.cancel(cause)
}

// Wait 等待所有服务退出。
//
// 组被取消导致的 context.Canceled 不视为错误；显式的取消原因（如 [*SignalError]）原样返回。
func (g *Group) Wait() error {
	defer g.cancel(nil)
	err := g.eg.Wait()

	canceled := g.cause.Err() != nil
	if canceled {
		if c := context.Cause(g.cause); c != nil && !errors.Is(c, context.Canceled) {
			if err == nil || errors.Is(err, context.Canceled) {
				return c
			}
		}
	}
	if errors.Is(err, context.Canceled) && canceled {
		return nil
	}
	return err
}

// Run 运行服务直到全部退出或收到退出信号，信号退出时返回 [*SignalError]。
func Run(ctx context.Context, opts []Option, services ...func(ctx context.Context) error) error {
	g, _ := NewGroup(ctx, opts...)

	g.Go(func(ctx context.Context) error {
		src := g.opts.source
		if src == nil {
			sigs := g.opts.signals
			if len(sigs) == 0 {
				sigs = DefaultSignals()
			}
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, sigs...)
			defer signal.Stop(ch)
			src = ch
		}
		select {
		case sig := <-src:
			g.opts.logger.Info("xrun: received signal",
				slog.String("group", g.opts.name),
				slog.String("signal", sig.String()),
			)
			g.Cancel(&SignalError{Signal: sig})
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	for _, svc := range services {
		g.Go(svc)
	}
	return g.Wait()
}

// Ticker 返回按 interval 周期执行 fn 的服务，immediate 为 true 时先执行一次。
// fn 返回错误即结束服务。
func Ticker(interval time.Duration, immediate bool, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}
		if fn == nil {
			return ErrNilFunc
		}
		if immediate {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := fn(ctx); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Server 可优雅关闭的服务端，*http.Server 满足该接口。
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Serve 返回运行 srv 的服务，ctx 结束时在 shutdownTimeout 内优雅关闭（<= 0 表示不限时）。
func Serve(srv Server, shutdownTimeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if srv == nil {
			return ErrNilFunc
		}
		done := make(chan error, 1)
		go func() { done <- srv.ListenAndServe() }()

		select {
		case err := <-done:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		sctx := context.Background()
		if shutdownTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(sctx, shutdownTimeout)
			defer cancel()
		}
		err := srv.Shutdown(sctx)
		if lerr := <-done; lerr != nil && !errors.Is(lerr, http.ErrServerClosed) {
			err = errors.Join(err, lerr)
		}
		if err != nil {
			return err
		}
		return ctx.Err()
	}
}
