package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"Kurashi-Agents/pkg/logger"
)

const defaultDebounce = 300 * time.Millisecond

// WatchOption 定义 Watch 的可选参数。
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
}

// WithDebounce 设置合并连续事件的时间窗口。
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// Watch 监听文件变化，在一次连续写入结束后调用 fn。阻塞直到 ctx 结束。
//
// 监听的是文件所在目录，编辑器以“写临时文件再重命名”方式保存时同样会触发。
func Watch(ctx context.Context, path string, fn func(), opts ...WatchOption) error {
	options := watchOptions{debounce: defaultDebounce}
	for _, opt := range opts {
		opt(&options)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("解析监听路径失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	log := logger.Named("config.watch").With(slog.String("path", target))
	timer := time.NewTimer(options.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(options.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("文件监听出错", slog.Any("error", err))
		case <-timer.C:
			log.Info("检测到文件变更")
			fn()
		}
	}
}
