package core

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DataKey 携带遥测数据的字段名
	DataKey = "data"
	// NoDataKey 标记"失败且没有数据"的字段名
	NoDataKey = "nodata"
)

// Point 一条遥测数据
type Point struct {
	Time        time.Time
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
}

// Valid 测量名非空且至少有一个字段
func (p *Point) Valid() bool {
	return p != nil && p.Measurement != "" && len(p.Fields) > 0
}

// Data 把遥测数据附加到日志记录上
func Data(p Point) zap.Field {
	return zap.Reflect(DataKey, &p)
}

// NoData 标记一条没有数据可用的失败记录
func NoData(reason string) zap.Field {
	return zap.String(NoDataKey, reason)
}
