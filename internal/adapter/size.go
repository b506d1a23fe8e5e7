package adapter

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1024 * 1024

// sizeFile 按大小轮转的文件
type sizeFile struct {
	lj     *lumberjack.Logger
	mu     sync.Mutex
	closed bool
}

func newSizeFile(cfg config.SizeRotationConfig, env core.SinkEnv) (*sizeFile, error) {
	path, err := resolvePath(env.BaseDir, cfg.Filename)
	if err != nil {
		return nil, err
	}
	return &sizeFile{
		lj: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB(cfg.MaxBytes),
			MaxBackups: cfg.BackupCount,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		},
	}, nil
}

// maxSizeMB 字节上限向上取整到 MB，0 表示不按大小轮转
func maxSizeMB(maxBytes int64) int {
	if maxBytes <= 0 {
		return math.MaxInt32
	}
	return int((maxBytes + megabyte - 1) / megabyte)
}

func (f *sizeFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.lj.Write(p)
}

// Sync lumberjack 每次写入直接落到文件
func (f *sizeFile) Sync() error { return nil }

func (f *sizeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.lj.Close(); err != nil {
		return fmt.Errorf("file close failed: %w", err)
	}
	return nil
}
