package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrInvalid 所有配置错误都可用 errors.Is 匹配
var ErrInvalid = errors.New("invalid logging configuration")

// Error 定位到具体配置段的错误
type Error struct {
	Section string
	Name    string
	Err     error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Section, e.Name, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrInvalid, e.Err} }

func invalid(section, name string, format string, args ...any) error {
	return &Error{Section: section, Name: name, Err: fmt.Errorf(format, args...)}
}

// ParseLevel 解析级别名称，大小写不敏感
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NOTSET":
		return NotSetLevel, nil
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARNING", "WARN":
		return WarningLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return CriticalLevel, nil
	default:
		return "", fmt.Errorf("unknown level name: %q", s)
	}
}

func (l LogLevel) Valid() bool {
	_, err := ParseLevel(string(l))
	return err == nil
}

func (l LogLevel) ZapLevel() zapcore.Level {
	lvl, _ := ParseLevel(string(l))
	switch lvl {
	case InfoLevel:
		return zapcore.InfoLevel
	case WarningLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case CriticalLevel:
		return zapcore.DPanicLevel
	default:
		return zapcore.DebugLevel
	}
}

// LevelName 返回 zap 级别对应的名称
func LevelName(l zapcore.Level) string {
	switch {
	case l < zapcore.InfoLevel:
		return string(DebugLevel)
	case l == zapcore.InfoLevel:
		return string(InfoLevel)
	case l == zapcore.WarnLevel:
		return string(WarningLevel)
	case l == zapcore.ErrorLevel:
		return string(ErrorLevel)
	default:
		return string(CriticalLevel)
	}
}

func resolveFormatterClass(s string) (FormatterClass, bool) {
	if s == "" {
		return TextFormatter, true
	}
	if c, ok := formatterAliases[s]; ok {
		return c, true
	}
	switch c := FormatterClass(s); c {
	case TextFormatter, DataFileFormatter, DataConsoleFormatter, DataInfluxFormatter, NoOpFormatter:
		return c, true
	}
	return "", false
}

func resolveFilterClass(s string) (FilterClass, bool) {
	if c, ok := filterAliases[s]; ok {
		return c, true
	}
	switch c := FilterClass(s); c {
	case DataFilter, InfoFilter, ErrorFilter, NoDataFilter:
		return c, true
	}
	return "", false
}

func resolveHandlerClass(s string) (HandlerClass, bool) {
	if c, ok := handlerAliases[s]; ok {
		return c, true
	}
	switch c := HandlerClass(s); c {
	case StreamHandler, FileHandler, TimedRotatingFile, SizeRotatingFile,
		InfluxDBHandler, SQLHandler, SyslogHandler, AMQPHandler:
		return c, true
	}
	return "", false
}

// Validate 验证格式化器配置
func (fc *FormatterConfig) Validate() error {
	class, ok := resolveFormatterClass(string(fc.Class))
	if !ok {
		return fmt.Errorf("unknown formatter class: %q", fc.Class)
	}
	fc.Class = class
	if fc.DateFormat == "" {
		fc.DateFormat = DefaultDateFormat
	}
	if class != TextFormatter {
		if fc.Format != "" {
			return fmt.Errorf("option format is not supported by %s", class)
		}
		if fc.Color {
			return fmt.Errorf("option color is not supported by %s", class)
		}
	}
	if class != DataInfluxFormatter && len(fc.Tags) > 0 {
		return fmt.Errorf("option tags is not supported by %s", class)
	}
	return nil
}

// Validate 验证过滤器配置
func (fc *FilterConfig) Validate() error {
	class, ok := resolveFilterClass(string(fc.Class))
	if !ok {
		return fmt.Errorf("unknown filter class: %q", fc.Class)
	}
	fc.Class = class
	return nil
}

// Validate 验证处理器配置，并为对应类型填充默认值
func (hc *HandlerConfig) Validate() error {
	class, ok := resolveHandlerClass(string(hc.Class))
	if !ok {
		return fmt.Errorf("unknown handler class: %q", hc.Class)
	}
	hc.Class = class

	lvl, err := ParseLevel(string(hc.Level))
	if err != nil {
		return err
	}
	hc.Level = lvl

	if !hc.IsEnabled() {
		return nil
	}

	switch class {
	case StreamHandler:
		if hc.Stream == nil {
			hc.Stream = &StreamConfig{}
		}
		return hc.Stream.Validate()
	case FileHandler:
		if hc.File == nil {
			return errors.New("file handler requires file configuration")
		}
		return hc.File.Validate()
	case TimedRotatingFile:
		if hc.Timed == nil {
			return errors.New("timed rotating handler requires file configuration")
		}
		return hc.Timed.Validate()
	case SizeRotatingFile:
		if hc.Rotating == nil {
			return errors.New("rotating handler requires file configuration")
		}
		return hc.Rotating.Validate()
	case InfluxDBHandler:
		if hc.InfluxDB == nil {
			return errors.New("influxdb handler requires influxdb configuration")
		}
		return hc.InfluxDB.Validate()
	case SQLHandler:
		if hc.Database == nil {
			return errors.New("sql handler requires database configuration")
		}
		return hc.Database.Validate()
	case SyslogHandler:
		if hc.Syslog == nil {
			return errors.New("syslog handler requires syslog configuration")
		}
		return hc.Syslog.Validate()
	case AMQPHandler:
		if hc.AMQP == nil {
			return errors.New("amqp handler requires amqp configuration")
		}
		return hc.AMQP.Validate()
	}
	return nil
}

// Validate 验证控制台配置
func (sc *StreamConfig) Validate() error {
	switch strings.TrimPrefix(sc.Stream, "ext://sys.") {
	case "", "stderr":
		sc.Stream = "stderr"
	case "stdout":
		sc.Stream = "stdout"
	default:
		return fmt.Errorf("unsupported stream: %q", sc.Stream)
	}
	return nil
}

func validateFileCommon(filename, mode, encoding *string) error {
	if *filename == "" {
		return errors.New("filename is required")
	}
	switch *mode {
	case "":
		*mode = "a"
	case "a", "w":
	default:
		return fmt.Errorf("unsupported file mode: %q", *mode)
	}
	switch strings.ToLower(*encoding) {
	case "", "utf-8", "utf8":
	default:
		return fmt.Errorf("unsupported encoding: %q", *encoding)
	}
	return nil
}

// Validate 验证文件配置
func (fc *FileConfig) Validate() error {
	return validateFileCommon(&fc.Filename, &fc.Mode, &fc.Encoding)
}

// Validate 验证按时间轮转配置
func (tc *TimedRotationConfig) Validate() error {
	if err := validateFileCommon(&tc.Filename, &tc.Mode, &tc.Encoding); err != nil {
		return err
	}
	switch strings.ToLower(tc.When) {
	case "", "midnight":
		tc.When = "midnight"
	case "d", "h", "m":
		tc.When = strings.ToLower(tc.When)
	default:
		return fmt.Errorf("unsupported rotation boundary: %q", tc.When)
	}
	if tc.Interval < 0 {
		return fmt.Errorf("invalid interval: %d", tc.Interval)
	}
	if tc.Interval == 0 || tc.When == "midnight" {
		tc.Interval = 1
	}
	if tc.BackupCount == nil {
		n := DefaultBackupCount
		tc.BackupCount = &n
	} else if *tc.BackupCount < 0 {
		return fmt.Errorf("invalid backupCount: %d", *tc.BackupCount)
	}
	return nil
}

// Validate 验证按大小轮转配置
func (sc *SizeRotationConfig) Validate() error {
	mode := "a"
	if err := validateFileCommon(&sc.Filename, &mode, &sc.Encoding); err != nil {
		return err
	}
	if sc.MaxBytes < 0 || sc.BackupCount < 0 || sc.MaxAgeDays < 0 {
		return errors.New("maxBytes, backupCount and maxAgeDays must not be negative")
	}
	return nil
}

// Validate 验证时序配置
func (ic *InfluxDBConfig) Validate() error {
	if ic.URL == "" {
		return errors.New("URL is required for time series database")
	}
	if _, err := url.ParseRequestURI(ic.URL); err != nil {
		return fmt.Errorf("invalid influxdb url: %w", err)
	}
	if ic.Bucket == "" {
		return errors.New("bucket is required for time series database")
	}
	if ic.Token == "" {
		return errors.New("token is required for time series database")
	}
	if ic.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %s", ic.Timeout)
	}
	if ic.Timeout == 0 {
		ic.Timeout = DefaultRemoteTimeout
	}
	return nil
}

// Validate 验证数据库配置
func (dc *DatabaseConfig) Validate() error {
	switch dc.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported driver: %q", dc.Driver)
	}
	if dc.DSN == "" {
		return errors.New("data source name is required for SQL databases")
	}
	if dc.Table == "" {
		return errors.New("table name is required for SQL databases")
	}
	if dc.BatchSize == 0 {
		dc.BatchSize = DefaultBatchSize
	}
	if dc.BatchInterval == 0 {
		dc.BatchInterval = DefaultBatchInterval
	}
	if dc.MaxOpenConns == 0 {
		dc.MaxOpenConns = DefaultMaxOpenConns
	}
	if dc.MaxIdleConns == 0 {
		dc.MaxIdleConns = DefaultMaxIdleConns
	}
	if dc.RetryDelay == 0 {
		dc.RetryDelay = DefaultRetryDelay
	}
	if dc.BatchSize < 0 || dc.BatchInterval < 0 {
		return errors.New("batchSize and batchInterval must be positive")
	}
	return nil
}

// Validate 验证Syslog配置
func (sc *SyslogConfig) Validate() error {
	switch sc.Network {
	case "":
		sc.Network = "udp"
	case "tcp", "udp":
	default:
		return fmt.Errorf("unsupported syslog network: %q", sc.Network)
	}
	if sc.Address == "" {
		return errors.New("syslog address is required")
	}
	if sc.Tag == "" {
		sc.Tag = DefaultSyslogTag
	}
	if sc.Facility == nil {
		f := DefaultSyslogFacility
		sc.Facility = &f
	} else if *sc.Facility < 0 || *sc.Facility > 23 {
		return fmt.Errorf("invalid syslog facility: %d, must be 0-23", *sc.Facility)
	}
	if sc.Timeout == 0 {
		sc.Timeout = DefaultRemoteTimeout
	}
	return nil
}

// Validate 验证消息队列配置
func (ac *AMQPConfig) Validate() error {
	if ac.URL == "" {
		return errors.New("amqp url is required")
	}
	if !strings.HasPrefix(ac.URL, "amqp://") && !strings.HasPrefix(ac.URL, "amqps://") {
		return fmt.Errorf("invalid amqp url scheme: %q", ac.URL)
	}
	if ac.Queue == "" && ac.RoutingKey == "" {
		ac.Queue = DefaultAMQPQueue
	}
	if ac.RoutingKey == "" {
		ac.RoutingKey = ac.Queue
	}
	if ac.Timeout == 0 {
		ac.Timeout = DefaultRemoteTimeout
	}
	return nil
}

// Validate 验证采样配置
func (sc *SamplingConfig) Validate() error {
	if sc.Initial <= 0 || sc.Thereafter <= 0 {
		return errors.New("sampling requires positive initial and thereafter values")
	}
	if sc.Tick == 0 {
		sc.Tick = time.Second
	}
	if sc.Tick < 0 {
		return fmt.Errorf("invalid sampling tick: %s", sc.Tick)
	}
	return nil
}

func (lc *LoggerConfig) validate(section, name string, handlers map[string]HandlerConfig) error {
	lvl, err := ParseLevel(string(lc.Level))
	if err != nil {
		return &Error{Section: section, Name: name, Err: err}
	}
	lc.Level = lvl
	for _, h := range lc.Handlers {
		if _, ok := handlers[h]; !ok {
			return invalid(section, name, "unknown handler: %q", h)
		}
	}
	if lc.Sampling != nil {
		if err := lc.Sampling.Validate(); err != nil {
			return &Error{Section: section, Name: name, Err: err}
		}
	}
	return nil
}

// Validate 验证整棵路由表配置
// 校验失败时不会留下任何部分生效的状态
func (lc *LoggingConfig) Validate() error {
	if lc.Version != DocumentVersion {
		return invalid("version", "", "unsupported version: %d", lc.Version)
	}

	for _, name := range sortedKeys(lc.Formatters) {
		fc := lc.Formatters[name]
		if err := fc.Validate(); err != nil {
			return &Error{Section: "formatter", Name: name, Err: err}
		}
		lc.Formatters[name] = fc
	}

	for _, name := range sortedKeys(lc.Filters) {
		fc := lc.Filters[name]
		if err := fc.Validate(); err != nil {
			return &Error{Section: "filter", Name: name, Err: err}
		}
		lc.Filters[name] = fc
	}

	for _, name := range sortedKeys(lc.Handlers) {
		hc := lc.Handlers[name]
		if err := hc.Validate(); err != nil {
			return &Error{Section: "handler", Name: name, Err: err}
		}
		if hc.Formatter != "" {
			if _, ok := lc.Formatters[hc.Formatter]; !ok {
				return invalid("handler", name, "unknown formatter: %q", hc.Formatter)
			}
		}
		for _, f := range hc.Filters {
			if _, ok := lc.Filters[f]; !ok {
				return invalid("handler", name, "unknown filter: %q", f)
			}
		}
		lc.Handlers[name] = hc
	}

	// 兜底处理器需要在所有处理器类型确定后再检查
	for _, name := range sortedKeys(lc.Handlers) {
		hc := lc.Handlers[name]
		if hc.Fallback == "" {
			continue
		}
		fb, ok := lc.Handlers[hc.Fallback]
		switch {
		case !ok:
			return invalid("handler", name, "unknown fallback handler: %q", hc.Fallback)
		case hc.Fallback == name:
			return invalid("handler", name, "handler cannot be its own fallback")
		case fb.Fallback != "":
			return invalid("handler", name, "fallback handler %q must not have a fallback itself", hc.Fallback)
		}
	}

	for _, name := range sortedKeys(lc.Loggers) {
		if name == "" {
			return invalid("logger", name, "logger name must not be empty")
		}
		cfg := lc.Loggers[name]
		if err := cfg.validate("logger", name, lc.Handlers); err != nil {
			return err
		}
		lc.Loggers[name] = cfg
	}
	if lc.Root != nil {
		if err := lc.Root.validate("root", "", lc.Handlers); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
