package core

import (
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// routeCore 实现 zapcore.Core
// 每条条目只构造一次记录，再按顺序分发给日志器绑定的处理器
type routeCore struct {
	level    zapcore.LevelEnabler
	handlers []*Handler
	tree     *tree
	table    *Table
	metrics  *Metrics

	fields []zapcore.Field
}

func newRouteCore(level zapcore.LevelEnabler, handlers []*Handler, tr *tree, t *Table) *routeCore {
	return &routeCore{level: level, handlers: handlers, tree: tr, table: t, metrics: t.metrics}
}

func (c *routeCore) Enabled(level zapcore.Level) bool {
	return c.level.Enabled(level)
}

func (c *routeCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *routeCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write 不向调用方返回任何错误，失败由各处理器自行上报
func (c *routeCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := fields
	if len(c.fields) > 0 {
		all = make([]zapcore.Field, 0, len(c.fields)+len(fields))
		all = append(all, c.fields...)
		all = append(all, fields...)
	}
	if !c.tree.acquire() {
		c.redispatch(ent, all)
		return nil
	}
	defer c.tree.release()

	rec := NewRecord(ent, all)
	for _, h := range c.handlers {
		if h.ShouldHandle(rec) {
			h.Handle(rec)
		} else {
			c.metrics.record(h.name, outcomeFiltered)
		}
	}
	return nil
}

// redispatch 条目所属的树已被替换，交给当前代按同一名字重新路由
// 路由表已关闭时记录被丢弃并上报
func (c *routeCore) redispatch(ent zapcore.Entry, fields []zapcore.Field) {
	tr := c.table.current.Load()
	if tr == nil || tr.gen <= c.tree.gen {
		c.metrics.record("", outcomeDropped)
		c.table.fallback.Warn("log record dropped after table close",
			zap.String("logger", ent.LoggerName),
			zap.String("message", ent.Message),
		)
		return
	}
	// 按旧代出生处理，disable_existing_loggers 仍然生效
	if ce := tr.bind(ent.LoggerName, c.tree.gen).Core().Check(ent, nil); ce != nil {
		ce.Write(fields...)
	}
}

func (c *routeCore) Sync() error {
	if !c.tree.acquire() {
		return nil
	}
	defer c.tree.release()

	var errs []error
	for _, h := range c.handlers {
		if err := h.Sync(); err != nil {
			errs = append(errs, &SinkError{Handler: h.name, Op: "sync", Err: err})
		}
	}
	return errors.Join(errs...)
}
