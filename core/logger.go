package core

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 具名日志通道
// 每次调用按所属路由表的当前代解析处理器，重新加载后自动生效
type Logger struct {
	table  *Table
	name   string
	born   uint64
	fields []zap.Field

	bound atomic.Pointer[boundLogger]
}

type boundLogger struct {
	gen uint64
	zl  *zap.Logger
}

// Name 日志器名字
func (l *Logger) Name() string { return l.name }

// zap 返回当前代的日志器，调用方位置多跳过一层
func (l *Logger) zap() *zap.Logger {
	tr := l.table.current.Load()
	if b := l.bound.Load(); b != nil && b.gen == tr.gen {
		return b.zl
	}
	zl := tr.bind(l.name, l.born)
	if len(l.fields) > 0 {
		zl = zl.With(l.fields...)
	}
	l.bound.Store(&boundLogger{gen: tr.gen, zl: zl})
	return zl
}

// Enabled 当前级别是否会被处理
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap().Core().Enabled(level)
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap().Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap().Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap().Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap().Error(msg, fields...) }

// Critical 最高级别，不会触发 panic
func (l *Logger) Critical(msg string, fields ...zap.Field) { l.zap().DPanic(msg, fields...) }

// Data 以 INFO 级别发送一条遥测数据
func (l *Logger) Data(p Point, fields ...zap.Field) {
	l.zap().Info(p.Measurement, append(fields, Data(p))...)
}

// NoData 以 ERROR 级别报告一次没有数据的失败
func (l *Logger) NoData(reason string, fields ...zap.Field) {
	l.zap().Error(reason, append(fields, NoData(reason))...)
}

// Exception 以 ERROR 级别记录错误并附带调用栈
func (l *Logger) Exception(msg string, err error, fields ...zap.Field) {
	l.zap().WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)).Error(msg, append(fields, zap.Error(err))...)
}

// With 返回附带固定字段的子日志器
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := &Logger{table: l.table, name: l.name, born: l.born}
	child.fields = make([]zap.Field, 0, len(l.fields)+len(fields))
	child.fields = append(child.fields, l.fields...)
	child.fields = append(child.fields, fields...)
	return child
}

// Sugar 返回格式化风格的日志器，绑定到当前代
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.zap().WithOptions(zap.AddCallerSkip(-1)).Sugar()
}

// Sync 刷新所属路由表
func (l *Logger) Sync() error { return l.table.Sync() }
