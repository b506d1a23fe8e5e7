package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
)

// CreateSink 根据处理器配置创建输出，满足 core.SinkFactory
func CreateSink(name string, hc config.HandlerConfig, env core.SinkEnv) (core.Sink, error) {
	if env.Report == nil {
		env.Report = func(error) {}
	}

	var (
		s   core.Sink
		err error
	)
	switch hc.Class {
	case config.StreamHandler:
		if hc.Stream == nil {
			return nil, fmt.Errorf("%w: stream config missing", config.ErrInvalid)
		}
		s, err = newStreamSink(*hc.Stream, env)
	case config.FileHandler:
		if hc.File == nil {
			return nil, fmt.Errorf("%w: file config missing", config.ErrInvalid)
		}
		s, err = newFileSink(*hc.File, env)
	case config.TimedRotatingFile:
		if hc.Timed == nil {
			return nil, fmt.Errorf("%w: timed rotation config missing", config.ErrInvalid)
		}
		s, err = newTimedFile(*hc.Timed, env)
	case config.SizeRotatingFile:
		if hc.Rotating == nil {
			return nil, fmt.Errorf("%w: rotation config missing", config.ErrInvalid)
		}
		s, err = newSizeFile(*hc.Rotating, env)
	case config.InfluxDBHandler:
		if hc.InfluxDB == nil {
			return nil, fmt.Errorf("%w: influxdb config missing", config.ErrInvalid)
		}
		s, err = newInfluxSink(*hc.InfluxDB)
	case config.SQLHandler:
		if hc.Database == nil {
			return nil, fmt.Errorf("%w: database config missing", config.ErrInvalid)
		}
		s, err = newDBSink(*hc.Database, env)
	case config.SyslogHandler:
		if hc.Syslog == nil {
			return nil, fmt.Errorf("%w: syslog config missing", config.ErrInvalid)
		}
		s, err = newSyslogSink(name, *hc.Syslog, env)
	case config.AMQPHandler:
		if hc.AMQP == nil {
			return nil, fmt.Errorf("%w: amqp config missing", config.ErrInvalid)
		}
		s, err = newAMQPSink(*hc.AMQP)
	default:
		return nil, fmt.Errorf("%w: unsupported handler class %q", config.ErrInvalid, hc.Class)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// resolvePath 相对路径基于 BaseDir，并确保目录存在
func resolvePath(baseDir, filename string) (string, error) {
	path := filename
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	return path, nil
}

// openFlags 对应 a / w 两种打开方式
func openFlags(mode string) int {
	if mode == "w" {
		return os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	return os.O_CREATE | os.O_WRONLY | os.O_APPEND
}
