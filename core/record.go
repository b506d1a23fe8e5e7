package core

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Kind 记录类别，由字段推导而来
type Kind uint8

const (
	KindInfo Kind = iota
	KindData
	KindError
	KindNoData
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindNoData:
		return "nodata"
	default:
		return "info"
	}
}

// Record 一次发送的日志记录，构造后只读
type Record struct {
	Time     time.Time
	Level    zapcore.Level
	Logger   string
	File     string
	Line     int
	Function string
	Message  string
	Stack    string
	Fields   map[string]any

	Data   *Point
	NoData bool
	Reason string
}

// Kind 推导记录类别
// 有效数据优先，其次按级别区分 nodata/error 与 info
func (r *Record) Kind() Kind {
	switch {
	case r.Data != nil:
		return KindData
	case r.Level >= zapcore.WarnLevel && r.NoData:
		return KindNoData
	case r.Level >= zapcore.WarnLevel:
		return KindError
	default:
		return KindInfo
	}
}

// Err 返回 zap.Error 附加的错误文本
func (r *Record) Err() string {
	if v, ok := r.Fields["error"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// NewRecord 由 zap 条目和字段构造记录
func NewRecord(ent zapcore.Entry, fields []zapcore.Field) *Record {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	rec := &Record{
		Time:    ent.Time,
		Level:   ent.Level,
		Logger:  ent.LoggerName,
		Message: ent.Message,
		Stack:   ent.Stack,
		Fields:  enc.Fields,
	}
	if ent.Caller.Defined {
		rec.File = ent.Caller.File
		rec.Line = ent.Caller.Line
		rec.Function = ent.Caller.Function
	}

	// 格式不正确的数据不算数据，保留在普通字段里
	if p := asPoint(enc.Fields[DataKey]); p.Valid() {
		if p.Time.IsZero() {
			cp := *p
			cp.Time = ent.Time
			p = &cp
		}
		rec.Data = p
		delete(rec.Fields, DataKey)
	}
	if v, ok := enc.Fields[NoDataKey]; ok {
		rec.NoData = true
		rec.Reason = fmt.Sprint(v)
		delete(rec.Fields, NoDataKey)
	}
	return rec
}

func asPoint(v any) *Point {
	switch p := v.(type) {
	case *Point:
		return p
	case Point:
		return &p
	default:
		return nil
	}
}
