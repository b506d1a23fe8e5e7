package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrBrokerUnavailable 消息队列不可达
var ErrBrokerUnavailable = errors.New("amqp broker unavailable")

// amqpSink 把格式化后的数据行发布到消息队列
// 首次写入时才连接；同一时间只有一个调用方建立连接，其余调用方立即返回 ErrBusy
// 连接失败后在 timeout 内不再重试，直接返回 ErrBrokerUnavailable
type amqpSink struct {
	cfg config.AMQPConfig
	now func() time.Time

	dialing sync.Mutex

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
	lastErr error
	closed  bool
}

func newAMQPSink(cfg config.AMQPConfig) (*amqpSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultRemoteTimeout
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.Queue
	}
	return &amqpSink{cfg: cfg, now: time.Now}, nil
}

// channel 返回可用的通道，必要时建立连接
func (s *amqpSink) channel() (*amqp.Channel, error) {
	if ch, done, err := s.ready(); done {
		return ch, err
	}
	if !s.dialing.TryLock() {
		return nil, fmt.Errorf("%w: amqp reconnect in progress", ErrBusy)
	}
	defer s.dialing.Unlock()
	if ch, done, err := s.ready(); done {
		return ch, err
	}

	conn, ch, err := s.dial()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.retryAt = s.now().Add(s.cfg.Timeout)
		s.lastErr = err
		return nil, err
	}
	if s.closed {
		_ = ch.Close()
		_ = conn.Close()
		return nil, amqp.ErrClosed
	}
	s.conn, s.ch, s.lastErr = conn, ch, nil
	return ch, nil
}

// ready 已有连接、已关闭或仍在退避期时 done 为 true
func (s *amqpSink) ready() (*amqp.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, true, amqp.ErrClosed
	case s.conn != nil && !s.conn.IsClosed():
		return s.ch, true, nil
	case s.lastErr != nil && s.now().Before(s.retryAt):
		return nil, true, s.lastErr
	}
	s.disconnect()
	return nil, false, nil
}

func (s *amqpSink) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(s.cfg.URL, amqp.Config{
		Dial:       amqp.DefaultDial(s.cfg.Timeout),
		Properties: amqp.Table{"connection_name": "orbisat"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: open channel: %w", ErrBrokerUnavailable, err)
	}
	if s.cfg.Queue != "" {
		if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("declare queue %q: %w", s.cfg.Queue, err)
		}
	}
	return conn, ch, nil
}

// disconnect 调用方持有 mu
func (s *amqpSink) disconnect() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// WriteRecord 以记录类型和时间作为消息属性
func (s *amqpSink) WriteRecord(rec *core.Record, line []byte) error {
	ts := rec.Time
	if rec.Data != nil {
		ts = rec.Data.Time
	}
	return s.publish(rec.Kind().String(), ts, line)
}

func (s *amqpSink) Write(p []byte) (int, error) {
	if err := s.publish(core.KindInfo.String(), time.Now(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *amqpSink) publish(kind string, ts time.Time, line []byte) error {
	body := bytes.TrimRight(line, "\n")
	if len(body) == 0 {
		return nil
	}

	ch, err := s.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ts,
		Type:         kind,
		AppId:        "orbisat",
		Body:         body,
	})
	if err != nil {
		s.mu.Lock()
		if s.ch == ch {
			s.disconnect()
		}
		s.mu.Unlock()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (s *amqpSink) Sync() error { return nil }

func (s *amqpSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.disconnect()
	return nil
}
