package core

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Handler 绑定格式化器、级别、过滤器和一个输出
type Handler struct {
	name      string
	level     zapcore.Level
	formatter Formatter
	filters   []Filter
	sink      Sink

	fallback *Handler
	report   func(handler string, rec *Record, err error)
	metrics  *Metrics
}

// NewHandler 创建处理器，report 接收没有兜底处理器时的失败
func NewHandler(name string, level zapcore.Level, formatter Formatter, filters []Filter, sink Sink) *Handler {
	return &Handler{
		name:      name,
		level:     level,
		formatter: formatter,
		filters:   filters,
		sink:      sink,
	}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Level() zapcore.Level { return h.level }

// ShouldHandle 级别达到阈值且所有过滤器都接受
func (h *Handler) ShouldHandle(rec *Record) bool {
	if rec.Level < h.level {
		return false
	}
	for _, f := range h.filters {
		if !f.Accept(rec) {
			return false
		}
	}
	return true
}

// Handle 格式化并写入记录，任何失败都不会传给调用方
func (h *Handler) Handle(rec *Record) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.fail(rec, &SinkError{Handler: h.name, Op: "panic", Err: fmt.Errorf("%v", r)})
		}
	}()

	line, err := h.formatter.Format(rec)
	if err != nil {
		h.fail(rec, &SinkError{Handler: h.name, Op: "format", Err: err})
		return
	}
	if len(line) == 0 {
		h.metrics.record(h.name, outcomeSkipped)
		return
	}

	if rs, ok := h.sink.(RecordSink); ok {
		err = rs.WriteRecord(rec, line)
	} else {
		_, err = h.sink.Write(append(line, '\n'))
	}
	h.metrics.observe(h.name, start)
	if err != nil {
		h.fail(rec, &SinkError{Handler: h.name, Op: "write", Err: err})
		return
	}
	h.metrics.record(h.name, outcomeWritten)
}

func (h *Handler) fail(rec *Record, err error) {
	h.metrics.record(h.name, outcomeFailed)
	if h.fallback != nil {
		h.fallback.Handle(fallbackRecord(h.name, rec, err))
		return
	}
	if h.report != nil {
		h.report(h.name, rec, err)
	}
}

// fallbackRecord 发给兜底处理器的报告记录
func fallbackRecord(handler string, rec *Record, err error) *Record {
	return &Record{
		Time:    time.Now(),
		Level:   zapcore.ErrorLevel,
		Logger:  rec.Logger,
		File:    rec.File,
		Line:    rec.Line,
		Message: fmt.Sprintf("handler %s dropped %s record: %v", handler, rec.Kind(), err),
		Fields:  map[string]any{},
	}
}

func (h *Handler) Sync() error {
	return h.sink.Sync()
}

func (h *Handler) Close() error {
	if err := h.sink.Sync(); err != nil {
		return errors.Join(err, h.sink.Close())
	}
	return h.sink.Close()
}
