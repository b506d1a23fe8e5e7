package config

import "time"

const (
	DocumentVersion       = 1
	DefaultDateFormat     = "2006-01-02 15:04:05"
	DefaultBackupCount    = 365
	DefaultRemoteTimeout  = 2 * time.Second
	DefaultBatchSize      = 100
	DefaultBatchInterval  = 5 * time.Second
	DefaultMaxOpenConns   = 10
	DefaultMaxIdleConns   = 5
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultSyslogFacility = 16
	DefaultSyslogTag      = "orbisat"
	DefaultAMQPQueue      = "orbisat.data"
)

// LogLevel 定义支持的日志级别名称
type LogLevel string

const (
	NotSetLevel   LogLevel = "NOTSET"
	DebugLevel    LogLevel = "DEBUG"
	InfoLevel     LogLevel = "INFO"
	WarningLevel  LogLevel = "WARNING"
	ErrorLevel    LogLevel = "ERROR"
	CriticalLevel LogLevel = "CRITICAL"
)

// FormatterClass 格式化器构造键
type FormatterClass string

const (
	TextFormatter        FormatterClass = "text"
	DataFileFormatter    FormatterClass = "data_file"
	DataConsoleFormatter FormatterClass = "data_console"
	DataInfluxFormatter  FormatterClass = "data_influx"
	NoOpFormatter        FormatterClass = "noop"
)

// FilterClass 过滤器构造键
type FilterClass string

const (
	DataFilter   FilterClass = "data"
	InfoFilter   FilterClass = "info"
	ErrorFilter  FilterClass = "error"
	NoDataFilter FilterClass = "nodata"
)

// HandlerClass 处理器构造键
type HandlerClass string

const (
	StreamHandler     HandlerClass = "stream"
	FileHandler       HandlerClass = "file"
	TimedRotatingFile HandlerClass = "timed_rotating_file"
	SizeRotatingFile  HandlerClass = "rotating_file"
	InfluxDBHandler   HandlerClass = "influxdb"
	SQLHandler        HandlerClass = "sql"
	SyslogHandler     HandlerClass = "syslog"
	AMQPHandler       HandlerClass = "amqp"
)

// 兼容 logging.config 风格的类名
var (
	formatterAliases = map[string]FormatterClass{
		"logging.Formatter":     TextFormatter,
		"FileDataFormatter":     DataFileFormatter,
		"ConsoleDataFormatter":  DataConsoleFormatter,
		"InfluxdbDataFormatter": DataInfluxFormatter,
		"NoDataFormatter":       NoOpFormatter,
	}
	filterAliases = map[string]FilterClass{
		"LogDataFilter": DataFilter,
		"InfoLogFilter": InfoFilter,
		"ErrorFilter":   ErrorFilter,
		"NoDataFilter":  NoDataFilter,
	}
	handlerAliases = map[string]HandlerClass{
		"logging.StreamHandler":                     StreamHandler,
		"logging.FileHandler":                       FileHandler,
		"logging.handlers.TimedRotatingFileHandler": TimedRotatingFile,
		"logging.handlers.RotatingFileHandler":      SizeRotatingFile,
		"logging.handlers.SysLogHandler":            SyslogHandler,
	}
)

// LoggingConfig 是一棵路由表的完整配置
type LoggingConfig struct {
	Version                int                        `yaml:"version"`
	DisableExistingLoggers bool                       `yaml:"disable_existing_loggers"`
	Formatters             map[string]FormatterConfig `yaml:"formatters"`
	Filters                map[string]FilterConfig    `yaml:"filters"`
	Handlers               map[string]HandlerConfig   `yaml:"handlers"`
	Loggers                map[string]LoggerConfig    `yaml:"loggers"`
	Root                   *LoggerConfig              `yaml:"root"`
}

// FormatterConfig 定义格式化器
type FormatterConfig struct {
	Class      FormatterClass    `yaml:"class"`
	Format     string            `yaml:"format"`  // text 模板或预设名
	DateFormat string            `yaml:"datefmt"` // Go 时间布局
	UTC        bool              `yaml:"utc"`
	Color      bool              `yaml:"color"`
	Tags       map[string]string `yaml:"tags"` // data_influx 静态标签
}

// FilterConfig 定义过滤器
type FilterConfig struct {
	Class FilterClass `yaml:"class"`
}

// HandlerConfig 定义处理器
// 每种类型只填充对应的子配置
type HandlerConfig struct {
	Class     HandlerClass `yaml:"class"`
	Level     LogLevel     `yaml:"level"`
	Formatter string       `yaml:"formatter"`
	Filters   []string     `yaml:"filters"`
	Fallback  string       `yaml:"fallback"` // 写入失败时的本地兜底处理器
	Enabled   *bool        `yaml:"enabled"`

	Stream   *StreamConfig        `yaml:"-"`
	File     *FileConfig          `yaml:"-"`
	Timed    *TimedRotationConfig `yaml:"-"`
	Rotating *SizeRotationConfig  `yaml:"-"`
	InfluxDB *InfluxDBConfig      `yaml:"-"`
	Database *DatabaseConfig      `yaml:"-"`
	Syslog   *SyslogConfig        `yaml:"-"`
	AMQP     *AMQPConfig          `yaml:"-"`
}

// IsEnabled 未显式关闭即为启用
func (hc HandlerConfig) IsEnabled() bool {
	return hc.Enabled == nil || *hc.Enabled
}

// StreamConfig 控制台输出
type StreamConfig struct {
	Stream string `yaml:"stream"` // stdout / stderr
}

// FileConfig 普通追加文件
type FileConfig struct {
	Filename string `yaml:"filename"`
	Mode     string `yaml:"mode"` // a / w
	Encoding string `yaml:"encoding"`
}

// TimedRotationConfig 按时间边界轮转的文件
type TimedRotationConfig struct {
	Filename    string `yaml:"filename"`
	When        string `yaml:"when"`
	Interval    int    `yaml:"interval"`
	UTC         bool   `yaml:"utc"`
	BackupCount *int   `yaml:"backupCount"`
	Mode        string `yaml:"mode"`
	Compress    bool   `yaml:"compress"`
	Encoding    string `yaml:"encoding"`
}

// SizeRotationConfig 按大小轮转的文件
type SizeRotationConfig struct {
	Filename    string `yaml:"filename"`
	MaxBytes    int64  `yaml:"maxBytes"`
	BackupCount int    `yaml:"backupCount"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
	Compress    bool   `yaml:"compress"`
	LocalTime   bool   `yaml:"localTime"`
	Encoding    string `yaml:"encoding"`
}

// InfluxDBConfig 时序数据库输出
type InfluxDBConfig struct {
	URL     string        `yaml:"url"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig SQL 数据库输出
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Table           string        `yaml:"table"`
	BatchSize       int           `yaml:"batchSize"`
	BatchInterval   time.Duration `yaml:"batchInterval"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

// SyslogConfig 系统日志输出
type SyslogConfig struct {
	Network  string        `yaml:"network"`
	Address  string        `yaml:"address"`
	Tag      string        `yaml:"tag"`
	Facility *int          `yaml:"facility"`
	RFC5424  bool          `yaml:"rfc5424"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AMQPConfig 消息队列输出
type AMQPConfig struct {
	URL        string        `yaml:"url"`
	Exchange   string        `yaml:"exchange"`
	RoutingKey string        `yaml:"routingKey"`
	Queue      string        `yaml:"queue"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SamplingConfig 定义日志采样配置
type SamplingConfig struct {
	Initial    int           `yaml:"initial"`
	Thereafter int           `yaml:"thereafter"`
	Tick       time.Duration `yaml:"tick"`
}

// LoggerConfig 定义具名日志器
type LoggerConfig struct {
	Level    LogLevel        `yaml:"level"`
	Handlers []string        `yaml:"handlers"`
	Sampling *SamplingConfig `yaml:"sampling"`
}
