package core

import (
	"strings"
	"testing"
	"time"

	"github.com/nstitov/orbisat/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var fixedTime = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

func newTestFormatter(t *testing.T, fc config.FormatterConfig) Formatter {
	t.Helper()
	require.NoError(t, fc.Validate())
	f, err := NewFormatter(fc)
	require.NoError(t, err)
	return f
}

func textRecord(level zapcore.Level) *Record {
	return &Record{
		Time:    fixedTime,
		Level:   level,
		Logger:  "orbisat.tcp",
		File:    "/src/orbisat/tcp/server.go",
		Line:    42,
		Message: "client connected",
		Fields:  map[string]any{},
	}
}

func TestTextFormatter(t *testing.T) {
	cases := []struct {
		name   string
		format string
		level  zapcore.Level
		want   string
	}{
		{"默认格式", "default", zapcore.WarnLevel,
			"[2024-03-01 12:30:45] #WARNING  server.go:42 - orbisat.tcp - client connected"},
		{"info格式", "info", zapcore.InfoLevel,
			"[2024-03-01 12:30:45] #INFO     - orbisat.tcp - client connected"},
		{"百分号格式", "[%(asctime)s] #%(levelname)-8s %(filename)s:%(lineno)d - %(name)s - %(message)s", zapcore.ErrorLevel,
			"[2024-03-01 12:30:45] #ERROR    server.go:42 - orbisat.tcp - client connected"},
		{"模板格式", "{{.Level}}|{{.Path}}|{{.Message}}", zapcore.DebugLevel,
			"DEBUG|/src/orbisat/tcp/server.go|client connected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFormatter(t, config.FormatterConfig{Format: tc.format, UTC: true})
			out, err := f.Format(textRecord(tc.level))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(out))
		})
	}

	t.Run("附加错误和调用栈", func(t *testing.T) {
		f := newTestFormatter(t, config.FormatterConfig{Format: "info", UTC: true})
		rec := textRecord(zapcore.ErrorLevel)
		rec.Fields["error"] = "connection reset"
		rec.Stack = "goroutine 1 [running]:"
		out, err := f.Format(rec)
		require.NoError(t, err)
		lines := strings.Split(string(out), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "connection reset", lines[1])
		assert.Equal(t, "goroutine 1 [running]:", lines[2])
	})

	t.Run("strftime日期格式", func(t *testing.T) {
		f := newTestFormatter(t, config.FormatterConfig{Format: "{{.Time}}", DateFormat: "%d.%m.%Y %H:%M", UTC: true})
		out, err := f.Format(textRecord(zapcore.InfoLevel))
		require.NoError(t, err)
		assert.Equal(t, "01.03.2024 12:30", string(out))
	})

	t.Run("彩色级别", func(t *testing.T) {
		f := newTestFormatter(t, config.FormatterConfig{Format: "info", Color: true, UTC: true})
		out, err := f.Format(textRecord(zapcore.ErrorLevel))
		require.NoError(t, err)
		assert.Contains(t, string(out), "ERROR")
		assert.Contains(t, string(out), "- orbisat.tcp - client connected")
	})

	t.Run("未知字段", func(t *testing.T) {
		_, err := NewFormatter(config.FormatterConfig{Class: config.TextFormatter, Format: "{{.Host}}"})
		assert.ErrorIs(t, err, config.ErrInvalid)

		_, err = NewFormatter(config.FormatterConfig{Class: config.TextFormatter, Format: "%(process)d %(message)s"})
		assert.ErrorIs(t, err, config.ErrInvalid)
	})
}

func TestNoOpFormatter(t *testing.T) {
	f := newTestFormatter(t, config.FormatterConfig{Class: config.NoOpFormatter, UTC: true})

	rec := textRecord(zapcore.ErrorLevel)
	rec.NoData = true
	rec.Reason = "No response"
	out, err := f.Format(rec)
	require.NoError(t, err)
	assert.Equal(t, "[2024-03-01 12:30:45] #ERROR    - No response", string(out))
}

func dataRecord(p Point) *Record {
	return &Record{Time: fixedTime, Level: zapcore.InfoLevel, Logger: "orbisat.satellite", Data: &p, Fields: map[string]any{}}
}

func TestDataFileRoundTrip(t *testing.T) {
	f := newTestFormatter(t, config.FormatterConfig{Class: config.DataFileFormatter, UTC: true})

	payloads := []map[string]any{
		{"voltage": 3.3},
		{"voltage": 3.0, "count": int64(7), "mode": "idle", "ok": true},
		{"negative": int64(-12), "tiny": 1e-9, "huge": 6.02e23, "empty": ""},
		{"quote": `say "hi"`, "newline": "a\nb", "unicode": "спутник"},
		{"a": 0.1, "b": 123456.789, "c": 1.7976931348623157e308, "d": 5e-324, "e": -2.2250738585072014e-308},
	}
	for _, fields := range payloads {
		p := Point{
			Time:        time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC),
			Measurement: "telemetry",
			Tags:        map[string]string{"satellite": "OrbiSat"},
			Fields:      fields,
		}
		line, err := f.Format(dataRecord(p))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(line), "[2024-03-01 12:30:45] #DATA     - {"), string(line))

		got, err := ParseDataLine(line)
		require.NoError(t, err)
		assert.Equal(t, fields, got.Fields)
		assert.Equal(t, p.Tags, got.Tags)
		assert.Equal(t, p.Measurement, got.Measurement)
		assert.True(t, p.Time.Equal(got.Time))
	}
}

func TestDataFileKeyOrder(t *testing.T) {
	f := newTestFormatter(t, config.FormatterConfig{Class: config.DataFileFormatter, UTC: true})
	line, err := f.Format(dataRecord(Point{
		Time:        fixedTime,
		Measurement: "telemetry",
		Tags:        map[string]string{"b": "2", "a": "1"},
		Fields:      map[string]any{"z": int64(1), "a": int64(2)},
	}))
	require.NoError(t, err)
	assert.Equal(t,
		`[2024-03-01 12:30:45] #DATA     - {"time":"2024-03-01T12:30:45Z","measurement":"telemetry","fields":{"a":2,"z":1},"tags":{"a":"1","b":"2"}}`,
		string(line))
}

func TestDataConsoleFormatter(t *testing.T) {
	f := newTestFormatter(t, config.FormatterConfig{Class: config.DataConsoleFormatter, UTC: true})
	line, err := f.Format(dataRecord(Point{
		Measurement: "telemetry",
		Tags:        map[string]string{"satellite": "OrbiSat"},
		Fields:      map[string]any{"voltage": 3.3},
	}))
	require.NoError(t, err)
	assert.Equal(t, `[2024-03-01 12:30:45] #DATA     - {"measurement":"telemetry","fields":{"voltage":3.3}}`, string(line))

	t.Run("非数据记录输出为空", func(t *testing.T) {
		out, err := f.Format(textRecord(zapcore.InfoLevel))
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestParseDataLineRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"[2024-03-01 12:30:45] #INFO     - orbisat - hello",
		"[2024-03-01 12:30:45] #DATA     - {not json}",
		`[2024-03-01 12:30:45] #DATA     - {"measurement":"m","fields":{}}`,
	} {
		_, err := ParseDataLine([]byte(line))
		assert.Error(t, err, line)
	}
}

func TestInfluxFormatter(t *testing.T) {
	f := newTestFormatter(t, config.FormatterConfig{
		Class: config.DataInfluxFormatter,
		Tags:  map[string]string{"station": "ground-1"},
	})

	line, err := f.Format(dataRecord(Point{
		Time:        time.Unix(0, 1700000000000000000),
		Measurement: "telemetry",
		Tags:        map[string]string{"satellite": "OrbiSat"},
		Fields: map[string]any{
			"count": int64(5),
			"mode":  "idle",
			"gyro":  []any{1.5, 2.5},
			"pos":   map[string]any{"x": 0.25},
		},
	}))
	require.NoError(t, err)

	s := string(line)
	assert.True(t, strings.HasPrefix(s, "telemetry,satellite=OrbiSat,station=ground-1 "), s)
	assert.True(t, strings.HasSuffix(s, " 1700000000000000000"), s)
	for _, part := range []string{"count=5i", `mode="idle"`, "gyro_0=1.5", "gyro_1=2.5", "pos_x=0.25"} {
		assert.Contains(t, s, part)
	}
	assert.NotContains(t, s, "\n")
}
