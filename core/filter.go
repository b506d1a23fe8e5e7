package core

import (
	"fmt"

	"github.com/nstitov/orbisat/config"
	"go.uber.org/zap/zapcore"
)

// Filter 决定处理器是否接受一条记录，不得有副作用
type Filter interface {
	Accept(rec *Record) bool
}

// FilterFunc 函数形式的过滤器
type FilterFunc func(rec *Record) bool

func (f FilterFunc) Accept(rec *Record) bool { return f(rec) }

var (
	// 只接受携带有效数据的记录
	dataFilter = FilterFunc(func(rec *Record) bool {
		return rec.Data != nil
	})
	// DEBUG/INFO 的叙述性记录
	infoFilter = FilterFunc(func(rec *Record) bool {
		return rec.Data == nil && rec.Level < zapcore.WarnLevel
	})
	// WARNING 及以上、未标记 nodata 的记录
	errorFilter = FilterFunc(func(rec *Record) bool {
		return rec.Data == nil && rec.Level >= zapcore.WarnLevel && !rec.NoData
	})
	// WARNING 及以上、标记了 nodata 的记录
	noDataFilter = FilterFunc(func(rec *Record) bool {
		return rec.Data == nil && rec.Level >= zapcore.WarnLevel && rec.NoData
	})
)

// NewFilter 按类型构造过滤器
func NewFilter(fc config.FilterConfig) (Filter, error) {
	switch fc.Class {
	case config.DataFilter:
		return dataFilter, nil
	case config.InfoFilter:
		return infoFilter, nil
	case config.ErrorFilter:
		return errorFilter, nil
	case config.NoDataFilter:
		return noDataFilter, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter class %q", config.ErrInvalid, fc.Class)
	}
}
