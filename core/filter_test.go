package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/nstitov/orbisat/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var allLevels = []zapcore.Level{
	zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel,
	zapcore.ErrorLevel, zapcore.DPanicLevel,
}

// sampleRecords 覆盖级别、数据形态和 nodata 标记的所有组合
func sampleRecords() []*Record {
	payloads := []any{
		nil,
		&Point{Measurement: "telemetry", Fields: map[string]any{"v": 1.0}},
		&Point{Measurement: "", Fields: map[string]any{"v": 1.0}},
		&Point{Measurement: "telemetry"},
		"not a point",
	}
	var out []*Record
	for _, lvl := range allLevels {
		for _, payload := range payloads {
			for _, nodata := range []bool{false, true} {
				var fields []zapcore.Field
				if payload != nil {
					fields = append(fields, zapcore.Field{Key: DataKey, Type: zapcore.ReflectType, Interface: payload})
				}
				if nodata {
					fields = append(fields, NoData("No response"))
				}
				ent := zapcore.Entry{Level: lvl, Time: time.Now(), LoggerName: "orbisat.test", Message: "m"}
				out = append(out, NewRecord(ent, fields))
			}
		}
	}
	return out
}

func TestFiltersPartitionRecords(t *testing.T) {
	filters := map[string]Filter{}
	for _, class := range []config.FilterClass{config.DataFilter, config.InfoFilter, config.ErrorFilter, config.NoDataFilter} {
		f, err := NewFilter(config.FilterConfig{Class: class})
		require.NoError(t, err)
		filters[string(class)] = f
	}

	for i, rec := range sampleRecords() {
		var accepted []string
		for name, f := range filters {
			if f.Accept(rec) {
				accepted = append(accepted, name)
			}
		}
		require.Len(t, accepted, 1, "record %d (%s, kind %s) accepted by %v", i, rec.Level, rec.Kind(), accepted)
		assert.Equal(t, rec.Kind().String(), accepted[0])
	}
}

func TestRecordKind(t *testing.T) {
	ent := zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now()}

	t.Run("有效数据", func(t *testing.T) {
		rec := NewRecord(ent, []zapcore.Field{Data(Point{Measurement: "m", Fields: map[string]any{"a": 1}})})
		assert.Equal(t, KindData, rec.Kind())
		require.NotNil(t, rec.Data)
		assert.Equal(t, ent.Time, rec.Data.Time)
		assert.NotContains(t, rec.Fields, DataKey)
	})

	t.Run("格式错误的数据按普通记录处理", func(t *testing.T) {
		rec := NewRecord(ent, []zapcore.Field{Data(Point{Measurement: "m"})})
		assert.Equal(t, KindInfo, rec.Kind())
		assert.Nil(t, rec.Data)
		assert.Contains(t, rec.Fields, DataKey)
	})

	t.Run("低级别的nodata仍是info", func(t *testing.T) {
		rec := NewRecord(ent, []zapcore.Field{NoData("No response")})
		assert.Equal(t, KindInfo, rec.Kind())
		assert.Equal(t, "No response", rec.Reason)
	})

	t.Run("错误级别", func(t *testing.T) {
		e := ent
		e.Level = zapcore.ErrorLevel
		assert.Equal(t, KindError, NewRecord(e, nil).Kind())
		assert.Equal(t, KindNoData, NewRecord(e, []zapcore.Field{NoData("")}).Kind())
	})
}

func TestShouldHandleThreshold(t *testing.T) {
	for _, hl := range allLevels {
		h := NewHandler("h", hl, &noopFormatter{}, nil, &memSink{})
		for _, rl := range allLevels {
			rec := &Record{Level: rl}
			if rl < hl {
				assert.False(t, h.ShouldHandle(rec), fmt.Sprintf("handler %s record %s", hl, rl))
			} else {
				assert.True(t, h.ShouldHandle(rec), fmt.Sprintf("handler %s record %s", hl, rl))
			}
		}
	}
}
