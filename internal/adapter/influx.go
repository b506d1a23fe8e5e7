package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/nstitov/orbisat/config"
)

var (
	// ErrTimeout 远程写入超过时限，记录被丢弃
	ErrTimeout = errors.New("remote write timed out")
	// ErrBusy 进行中的远程写入已满，记录被丢弃
	ErrBusy = errors.New("remote sink busy")
)

// maxInflight 超时后仍未返回的写入数上限
const maxInflight = 8

// lineWriter 阻塞写入行协议，api.WriteAPIBlocking 满足该接口
type lineWriter interface {
	WriteRecord(ctx context.Context, line ...string) error
}

// influxSink 将 data_influx 格式化结果写入 InfluxDB
// 调用方最多等待 timeout
type influxSink struct {
	client  influxdb2.Client
	writer  lineWriter
	timeout time.Duration
	slots   chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

func newInfluxSink(cfg config.InfluxDBConfig) (*influxSink, error) {
	secs := uint((cfg.Timeout + time.Second - 1) / time.Second)
	options := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(max(secs, 1)).
		SetMaxRetries(0)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)
	s := newLineSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Timeout)
	s.client = client
	return s, nil
}

func newLineSink(w lineWriter, timeout time.Duration) *influxSink {
	if timeout <= 0 {
		timeout = config.DefaultRemoteTimeout
	}
	return &influxSink{
		writer:  w,
		timeout: timeout,
		slots:   make(chan struct{}, maxInflight),
	}
}

func (s *influxSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	line := string(bytes.TrimRight(p, "\n"))
	if line == "" {
		return len(p), nil
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return 0, ErrBusy
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	done := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		defer cancel()
		done <- s.writer.WriteRecord(ctx, line)
	}()

	select {
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("influxdb write: %w", err)
		}
		return len(p), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}
}

func (s *influxSink) Sync() error { return nil }

// Close 等待进行中的写入结束，它们都受 timeout 约束
func (s *influxSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Wait()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
