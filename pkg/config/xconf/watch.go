package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce 默认防抖间隔。
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc 配置文件变更后的回调，err 为重载或监视错误。
type ReloadFunc func(l *Loader, err error)

// WatchOption 监视选项。
type WatchOption func(*Watcher)

// WithDebounce 设置防抖间隔，间隔内的多次变更只触发一次重载。
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher 监视配置文件并在变更后重载。
//
// 监视文件所在目录而不是文件本身，编辑器的"写临时文件再 rename"也能被捕获。
type Watcher struct {
	loader   *Loader
	fs       *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
}

// Watch 创建监视器，调用 [Watcher.Run] 开始监视。
func Watch(l *Loader, onReload ReloadFunc, opts ...WatchOption) (*Watcher, error) {
	if l == nil || l.path == "" {
		return nil, ErrNotReloadable
	}
	w := &Watcher{loader: l, onReload: onReload, debounce: DefaultDebounce}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("xconf: create watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := fs.Add(dir); err != nil {
		return nil, errors.Join(fmt.Errorf("xconf: watch %s: %w", dir, err), fs.Close())
	}
	w.fs = fs
	return w, nil
}

// Run 阻塞监视直到 ctx 结束，返回时释放底层资源。
//
// Run 返回后不会再有回调。
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close() //nolint:errcheck // 退出路径上的关闭错误无处上报

	name := filepath.Base(w.loader.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.emit(w.loader.Reload())
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emit(fmt.Errorf("xconf: watch: %w", err))
		}
	}
}

func (w *Watcher) emit(err error) {
	if w.onReload != nil {
		w.onReload(w.loader, err)
	}
}

// Close 释放监视器，用于未调用 Run 的情况。
func (w *Watcher) Close() error {
	return w.fs.Close()
}
