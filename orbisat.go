// Package orbisat 是地面站与卫星数据管道使用的结构化日志库
// 同一条记录按路由表分发到控制台、轮转文件、InfluxDB、SQL、syslog 和消息队列。
//
// 示例：
//
//	table, err := orbisat.OpenServer(nil, orbisat.WithBaseDir("/var/lib/orbisat"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer table.Close()
//
//	log := table.Logger("orbisat.satellite")
//	log.Info("session started")
//	log.Data(orbisat.Point{
//	    Measurement: "telemetry",
//	    Tags:        map[string]string{"satellite": "OrbiSat"},
//	    Fields:      map[string]any{"voltage": 3.3},
//	})
//	log.NoData("No response")
package orbisat

import (
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"github.com/nstitov/orbisat/internal/adapter"
	"go.uber.org/zap"
)

type (
	Table   = core.Table
	Logger  = core.Logger
	Point   = core.Point
	Record  = core.Record
	Option  = core.Option
	Config  = config.LoggingConfig
	Secrets = config.Secrets
)

// === 常量也导出 ===
type LogLevel = config.LogLevel

const (
	DebugLevel    = config.DebugLevel
	InfoLevel     = config.InfoLevel
	WarningLevel  = config.WarningLevel
	ErrorLevel    = config.ErrorLevel
	CriticalLevel = config.CriticalLevel
)

var (
	// ErrInvalid 配置错误，启动时应视为致命
	ErrInvalid = config.ErrInvalid

	WithFallback   = core.WithFallback
	WithBaseDir    = core.WithBaseDir
	WithStdout     = core.WithStdout
	WithStderr     = core.WithStderr
	WithRegisterer = core.WithRegisterer
)

// New 按配置构建路由表，输出由内置的处理器类型创建
func New(cfg *Config, opts ...Option) (*Table, error) {
	return core.NewTable(cfg, adapter.CreateSink, opts...)
}

// Open 加载 YAML 配置文件并构建路由表
func Open(path string, secrets *Secrets, opts ...Option) (*Table, error) {
	cfg, err := config.Load(path, secrets)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// OpenServer 使用内置的服务端路由表
func OpenServer(secrets *Secrets, opts ...Option) (*Table, error) {
	cfg, err := config.ServerDefault(secrets)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// OpenGUI 使用内置的图形界面路由表
func OpenGUI(secrets *Secrets, opts ...Option) (*Table, error) {
	cfg, err := config.GUIDefault(secrets)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Data 把遥测点附加到任意日志调用上
func Data(p Point) zap.Field { return core.Data(p) }

// NoData 标记一次没有数据的失败
func NoData(reason string) zap.Field { return core.NoData(reason) }

// ParseDataLine 从数据文件的一行还原遥测点
func ParseDataLine(line []byte) (*Point, error) { return core.ParseDataLine(line) }
