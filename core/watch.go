package core

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nstitov/orbisat/config"
	"go.uber.org/zap"
)

// watchDebounce 编辑器保存时常产生一串事件，合并后只加载一次
const watchDebounce = 200 * time.Millisecond

// Watch 监视配置文件，变化时重新加载路由表，直到 ctx 结束
// 加载或构建失败时保留当前表，并写入兜底日志
func (t *Table) Watch(ctx context.Context, path string, secrets *config.Secrets) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监视所在目录，文件被替换后仍能收到事件
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()

		timer := time.NewTimer(watchDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					timer.Reset(watchDebounce)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				t.fallback.Warn("config watcher failure", zap.String("path", abs), zap.Error(err))
			case <-timer.C:
				t.reloadFile(abs, secrets)
			}
		}
	}()
	return nil
}

func (t *Table) reloadFile(path string, secrets *config.Secrets) {
	cfg, err := config.Load(path, secrets)
	if err != nil {
		t.metrics.reload(err)
	} else {
		err = t.Reload(cfg)
	}
	if err != nil {
		t.fallback.Error("reload logging config", zap.String("path", path), zap.Error(err))
		return
	}
	t.fallback.Info("logging config reloaded", zap.String("path", path))
}
