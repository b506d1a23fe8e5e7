package core

import (
	"fmt"
	"io"

	"github.com/nstitov/orbisat/config"
)

// Sink 处理器独占的输出目标
// 实现必须可并发调用，由实现自身串行化对底层资源的访问
type Sink interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// RecordSink 需要结构化记录的输出（数据库、消息队列）
type RecordSink interface {
	Sink
	WriteRecord(rec *Record, line []byte) error
}

// SinkEnv 构造输出时可用的环境
type SinkEnv struct {
	BaseDir string
	Stdout  io.Writer
	Stderr  io.Writer
	// Report 接收后台写入（批量、重连）产生的错误
	Report func(err error)
}

// SinkFactory 按处理器配置构造输出
type SinkFactory func(name string, hc config.HandlerConfig, env SinkEnv) (Sink, error)

// SinkError 单个处理器写入失败，记录只对该处理器丢弃
type SinkError struct {
	Handler string
	Op      string
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("handler %q %s: %v", e.Handler, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
