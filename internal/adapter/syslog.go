package adapter

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"go.uber.org/zap/zapcore"
)

// ErrSyslogUnavailable syslog 服务器不可达
var ErrSyslogUnavailable = errors.New("syslog server unavailable")

const (
	maxHostnameLength = 255
	maxSyslogMessage  = 8 * 1024
)

// syslogSink 按 RFC5424 或 RFC3164 发送到 syslog
// 写入失败时断开并重连一次；同一时间只有一个调用方重连，其余调用方返回 ErrBusy
type syslogSink struct {
	cfg      config.SyslogConfig
	facility int
	hostname string
	pid      int
	dialer   net.Dialer
	now      func() time.Time

	dialing sync.Mutex

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newSyslogSink(name string, cfg config.SyslogConfig, env core.SinkEnv) (*syslogSink, error) {
	facility := config.DefaultSyslogFacility
	if cfg.Facility != nil {
		facility = *cfg.Facility
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultRemoteTimeout
	}
	s := &syslogSink{
		cfg:      cfg,
		facility: facility,
		hostname: generateHostname(),
		pid:      os.Getpid(),
		dialer:   net.Dialer{Timeout: cfg.Timeout},
		now:      time.Now,
	}

	conn, err := s.dial()
	if err != nil {
		return nil, fmt.Errorf("syslog handler %q: %w", name, err)
	}
	s.conn = conn
	return s, nil
}

func (s *syslogSink) dial() (net.Conn, error) {
	conn, err := s.dialer.Dial(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyslogUnavailable, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(3 * time.Minute)
	}
	return conn, nil
}

// connection 返回当前连接，断开时由一个调用方负责重连
func (s *syslogSink) connection() (net.Conn, error) {
	if conn, err := s.current(); conn != nil || err != nil {
		return conn, err
	}
	if !s.dialing.TryLock() {
		return nil, fmt.Errorf("%w: syslog reconnect in progress", ErrBusy)
	}
	defer s.dialing.Unlock()
	if conn, err := s.current(); conn != nil || err != nil {
		return conn, err
	}

	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, net.ErrClosed
	}
	s.conn = conn
	return conn, nil
}

func (s *syslogSink) current() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, net.ErrClosed
	}
	return s.conn, nil
}

// drop 丢弃写入失败的连接，已被替换时不影响新连接
func (s *syslogSink) drop(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// WriteRecord 按记录级别和时间构造 syslog 报文
func (s *syslogSink) WriteRecord(rec *core.Record, line []byte) error {
	return s.send(s.format(levelToSeverity(rec.Level), rec.Time, line))
}

func (s *syslogSink) Write(p []byte) (int, error) {
	if err := s.send(s.format(levelToSeverity(zapcore.InfoLevel), s.now(), p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *syslogSink) format(severity int, ts time.Time, line []byte) []byte {
	msg := string(bytes.TrimRight(line, "\n"))
	if s.cfg.Network == "tcp" {
		msg = safeMessage(msg)
	}
	if len(msg) > maxSyslogMessage {
		msg = msg[:maxSyslogMessage-3] + "..."
	}

	priority := s.facility*8 + severity
	var out string
	if s.cfg.RFC5424 {
		out = fmt.Sprintf("<%d>1 %s %s %s %d - - %s",
			priority, ts.UTC().Format(time.RFC3339Nano), s.hostname, s.cfg.Tag, s.pid, msg)
	} else {
		out = fmt.Sprintf("<%d>%s %s %s[%d]: %s",
			priority, ts.Format(time.Stamp), s.hostname, s.cfg.Tag, s.pid, msg)
	}
	// TCP 以换行分帧
	if s.cfg.Network == "tcp" {
		out += "\n"
	}
	return []byte(out)
}

// send 每条报文一次 Write，net.Conn 保证并发写入不会交错
func (s *syslogSink) send(msg []byte) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var conn net.Conn
		if conn, err = s.connection(); err != nil {
			return err
		}
		if err = s.write(conn, msg); err == nil {
			return nil
		}
		s.drop(conn)
	}
	return err
}

func (s *syslogSink) write(conn net.Conn, p []byte) error {
	if err := conn.SetWriteDeadline(s.now().Add(s.cfg.Timeout)); err != nil {
		return err
	}
	_, err := conn.Write(p)
	return err
}

func (s *syslogSink) Sync() error { return nil }

func (s *syslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// levelToSeverity 日志级别到 syslog 严重级别
func levelToSeverity(level zapcore.Level) int {
	switch {
	case level >= zapcore.DPanicLevel:
		return 2
	case level >= zapcore.ErrorLevel:
		return 3
	case level >= zapcore.WarnLevel:
		return 4
	case level >= zapcore.InfoLevel:
		return 6
	default:
		return 7
	}
}

func generateHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	hostname = cleanHostname(hostname)
	if hostname == "" {
		return "localhost"
	}
	if len(hostname) > maxHostnameLength {
		hostname = hostname[:maxHostnameLength]
	}
	return hostname
}

// 清理主机名非法字符
func cleanHostname(hostname string) string {
	var clean strings.Builder
	for _, r := range strings.TrimSpace(hostname) {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '.':
			clean.WriteRune(r)
		default:
			clean.WriteRune('-')
		}
	}
	return clean.String()
}

// safeMessage 控制字符替换为空格并压缩空白
func safeMessage(msg string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 0 && r <= 31 {
			return ' '
		}
		return r
	}, msg)
	return strings.Join(strings.Fields(cleaned), " ")
}
