package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nstitov/orbisat/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrClosed 路由表已经关闭
var ErrClosed = errors.New("routing table closed")

// RootLogger 根日志器的名字
const RootLogger = "root"

type options struct {
	fallback   *zap.Logger
	baseDir    string
	stdout     io.Writer
	stderr     io.Writer
	registerer prometheus.Registerer
}

// Option 路由表选项
type Option func(*options)

// WithFallback 设置处理器失败时的最后兜底日志器，默认写到标准错误
func WithFallback(l *zap.Logger) Option {
	return func(o *options) { o.fallback = l }
}

// WithBaseDir 相对文件名的基准目录
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// WithStdout 替换 stdout 流
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithStderr 替换 stderr 流
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// WithRegisterer 指标注册位置，默认每张表一个独立的注册表
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Table 一棵独立的路由表：格式化器、过滤器、处理器和具名日志器
// 进程内可以同时存在多张互不影响的表
type Table struct {
	factory  SinkFactory
	env      SinkEnv
	fallback *zap.Logger
	metrics  *Metrics

	mu      sync.Mutex
	current atomic.Pointer[tree]
	closed  bool
}

// NewTable 校验配置并构建整棵路由表
// 任何一步失败都会关闭已经打开的输出，不会留下部分生效的表
func NewTable(cfg *config.LoggingConfig, factory SinkFactory, opts ...Option) (*Table, error) {
	o := options{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallback == nil {
		o.fallback = newFallbackLogger(o.stderr)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	m, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	t := &Table{
		factory:  factory,
		fallback: o.fallback,
		metrics:  m,
	}
	t.env = SinkEnv{
		BaseDir: o.baseDir,
		Stdout:  o.stdout,
		Stderr:  o.stderr,
		Report: func(err error) {
			t.fallback.Warn("log sink background failure", zap.Error(err))
		},
	}

	tr, err := t.build(cfg, 1)
	if err != nil {
		return nil, err
	}
	t.current.Store(tr)
	return t, nil
}

// newFallbackLogger 处理器失败时使用的应急日志器
func newFallbackLogger(w io.Writer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "ts"
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), zapcore.DebugLevel)
	return zap.New(core).Named("orbisat.fallback")
}

func (t *Table) reportFailure(handler string, rec *Record, err error) {
	t.fallback.Error("log handler failed",
		zap.String("handler", handler),
		zap.String("logger", rec.Logger),
		zap.Stringer("kind", rec.Kind()),
		zap.Error(err),
	)
}

// Logger 返回具名日志器，每次调用时按当前路由表解析
func (t *Table) Logger(name string) *Logger {
	var born uint64
	if tr := t.current.Load(); tr != nil {
		born = tr.gen
	}
	return &Logger{table: t, name: name, born: born}
}

// Config 当前生效的配置
func (t *Table) Config() *config.LoggingConfig {
	return t.current.Load().cfg
}

// Loggers 当前配置的日志器名字（含 root）
func (t *Table) Loggers() []string {
	tr := t.current.Load()
	names := sortedKeys(tr.loggers)
	if tr.root != nil {
		names = append(names, RootLogger)
	}
	return names
}

// SetLevel 运行时调整已配置日志器的级别
func (t *Table) SetLevel(name string, level config.LogLevel) error {
	lvl, err := config.ParseLevel(string(level))
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	tr := t.current.Load()
	n := tr.loggers[name]
	if name == RootLogger || name == "" {
		n = tr.root
	}
	if n == nil {
		return fmt.Errorf("logger %q is not configured", name)
	}
	n.level.SetLevel(lvl.ZapLevel())
	return nil
}

// Reload 构建新表并原子替换，失败时保留旧表
// 旧表在所有进行中的写入完成后关闭
func (t *Table) Reload(cfg *config.LoggingConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	old := t.current.Load()
	tr, err := t.build(cfg, old.gen+1)
	t.metrics.reload(err)
	if err != nil {
		return err
	}
	t.current.Store(tr)

	if err := old.close(); err != nil {
		t.fallback.Warn("close replaced handlers", zap.Error(err))
	}
	return nil
}

// Sync 刷新所有处理器
func (t *Table) Sync() error {
	tr := t.current.Load()
	if !tr.acquire() {
		return nil
	}
	defer tr.release()

	var errs []error
	for _, name := range sortedKeys(tr.handlers) {
		if err := tr.handlers[name].Sync(); err != nil {
			errs = append(errs, &SinkError{Handler: name, Op: "sync", Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close 刷新并关闭所有处理器，可重复调用
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.current.Load().close()
	_ = t.fallback.Sync()
	return err
}

// tree 某一代配置构建出的完整对象图
type tree struct {
	gen      uint64
	cfg      *config.LoggingConfig
	handlers map[string]*Handler
	loggers  map[string]*loggerNode
	root     *loggerNode

	mu     sync.RWMutex
	closed bool
}

type loggerNode struct {
	level zap.AtomicLevel
	zl    *zap.Logger
}

func (tr *tree) acquire() bool {
	tr.mu.RLock()
	if tr.closed {
		tr.mu.RUnlock()
		return false
	}
	return true
}

func (tr *tree) release() { tr.mu.RUnlock() }

// close 等待进行中的写入结束后关闭全部处理器
func (tr *tree) close() error {
	tr.mu.Lock()
	if tr.closed {
		tr.mu.Unlock()
		return nil
	}
	tr.closed = true
	tr.mu.Unlock()
	return tr.closeHandlers()
}

func (tr *tree) closeHandlers() error {
	var errs []error
	for _, name := range sortedKeys(tr.handlers) {
		if err := tr.handlers[name].Close(); err != nil {
			errs = append(errs, &SinkError{Handler: name, Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

type match uint8

const (
	matchNone match = iota
	matchRoot
	matchAncestor
	matchExact
)

// resolve 精确名字，其次最近的点分祖先，再次 root
func (tr *tree) resolve(name string) (*loggerNode, match) {
	if name == "" || name == RootLogger {
		if tr.root != nil {
			return tr.root, matchExact
		}
		return nil, matchNone
	}
	if n, ok := tr.loggers[name]; ok {
		return n, matchExact
	}
	for p := name; ; {
		i := strings.LastIndexByte(p, '.')
		if i < 0 {
			break
		}
		p = p[:i]
		if n, ok := tr.loggers[p]; ok {
			return n, matchAncestor
		}
	}
	if tr.root != nil {
		return tr.root, matchRoot
	}
	return nil, matchNone
}

// bind 为名字解析出 zap 日志器，解析不到时返回禁用的日志器
func (tr *tree) bind(name string, born uint64) *zap.Logger {
	n, m := tr.resolve(name)
	// 重新加载前取得、且新配置未覆盖的日志器按文档要求禁用
	if tr.cfg.DisableExistingLoggers && born < tr.gen && m <= matchRoot {
		return zap.NewNop()
	}
	if n == nil {
		return zap.NewNop()
	}
	return n.zl.Named(name)
}

func (t *Table) build(cfg *config.LoggingConfig, gen uint64) (_ *tree, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tr := &tree{
		gen:      gen,
		cfg:      cfg,
		handlers: make(map[string]*Handler, len(cfg.Handlers)),
		loggers:  make(map[string]*loggerNode, len(cfg.Loggers)),
	}
	defer func() {
		if err != nil {
			_ = tr.closeHandlers()
		}
	}()

	formatters := make(map[string]Formatter, len(cfg.Formatters))
	for _, name := range sortedKeys(cfg.Formatters) {
		f, err := NewFormatter(cfg.Formatters[name])
		if err != nil {
			return nil, &config.Error{Section: "formatter", Name: name, Err: err}
		}
		formatters[name] = f
	}
	filters := make(map[string]Filter, len(cfg.Filters))
	for _, name := range sortedKeys(cfg.Filters) {
		f, err := NewFilter(cfg.Filters[name])
		if err != nil {
			return nil, &config.Error{Section: "filter", Name: name, Err: err}
		}
		filters[name] = f
	}
	messageOnly, err := newTextFormatter("{{.Message}}", timeFormat{layout: config.DefaultDateFormat}, false)
	if err != nil {
		return nil, err
	}

	for _, name := range sortedKeys(cfg.Handlers) {
		hc := cfg.Handlers[name]
		if !hc.IsEnabled() {
			continue
		}
		var formatter Formatter = messageOnly
		if hc.Formatter != "" {
			formatter = formatters[hc.Formatter]
		}
		hfilters := make([]Filter, 0, len(hc.Filters))
		for _, fn := range hc.Filters {
			hfilters = append(hfilters, filters[fn])
		}

		sink, err := t.factory(name, hc, t.env)
		if err != nil {
			if errors.Is(err, config.ErrInvalid) {
				return nil, &config.Error{Section: "handler", Name: name, Err: err}
			}
			return nil, fmt.Errorf("open handler %q: %w", name, err)
		}
		h := NewHandler(name, hc.Level.ZapLevel(), formatter, hfilters, sink)
		h.report = t.reportFailure
		h.metrics = t.metrics
		tr.handlers[name] = h
	}
	for name, h := range tr.handlers {
		if fb := cfg.Handlers[name].Fallback; fb != "" {
			h.fallback = tr.handlers[fb]
		}
	}

	for _, name := range sortedKeys(cfg.Loggers) {
		tr.loggers[name] = t.newNode(tr, cfg.Loggers[name])
	}
	if cfg.Root != nil {
		tr.root = t.newNode(tr, *cfg.Root)
	}
	return tr, nil
}

func (t *Table) newNode(tr *tree, lc config.LoggerConfig) *loggerNode {
	level := zap.NewAtomicLevelAt(lc.Level.ZapLevel())
	handlers := make([]*Handler, 0, len(lc.Handlers))
	for _, name := range lc.Handlers {
		// 关闭的处理器直接跳过
		if h, ok := tr.handlers[name]; ok {
			handlers = append(handlers, h)
		}
	}
	core := newSampler(newRouteCore(level, handlers, tr, t), lc.Sampling)
	zl := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.DPanicLevel),
		zap.ErrorOutput(zapcore.Lock(zapcore.AddSync(t.env.Stderr))),
	)
	return &loggerNode{level: level, zl: zl}
}
