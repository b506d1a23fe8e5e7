package adapter

import (
	"fmt"
	"os"
	"sync"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
)

// fileSink 普通文件，不轮转
type fileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
}

func newFileSink(cfg config.FileConfig, env core.SinkEnv) (*fileSink, error) {
	path, err := resolvePath(env.BaseDir, cfg.Filename)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, openFlags(cfg.Mode), 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &fileSink{path: path, file: f}, nil
}

func (f *fileSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.file.Write(p)
}

func (f *fileSink) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	return f.file.Sync()
}

func (f *fileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("file close failed: %w", err)
	}
	return nil
}
