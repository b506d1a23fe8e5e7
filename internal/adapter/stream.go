package adapter

import (
	"io"
	"os"
	"sync"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
)

// streamSink 写控制台，每次写入后立即刷新
// 从不关闭 os.Stdout / os.Stderr
type streamSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newStreamSink(cfg config.StreamConfig, env core.SinkEnv) (*streamSink, error) {
	w := env.Stderr
	if cfg.Stream == "stdout" {
		w = env.Stdout
	}
	if w == nil {
		if cfg.Stream == "stdout" {
			w = os.Stdout
		} else {
			w = os.Stderr
		}
	}
	return &streamSink{w: w}, nil
}

func (s *streamSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.w.Write(p)
	if err == nil {
		s.flush()
	}
	return n, err
}

// flush 带缓冲的写入器逐行刷出
func (s *streamSink) flush() {
	if f, ok := s.w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// Sync 终端和管道不支持 fsync，忽略其错误
func (s *streamSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

func (s *streamSink) Close() error { return nil }
