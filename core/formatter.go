package core

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/nstitov/orbisat/config"
	"go.uber.org/zap/zapcore"
)

// Formatter 把记录渲染成一行输出（不含换行符），必须是纯函数
type Formatter interface {
	Format(rec *Record) ([]byte, error)
}

// 内置文本格式
var textPresets = map[string]string{
	"default": `[{{.Time}}] #{{printf "%-8s" .Level}} {{.File}}:{{.Line}} - {{.Logger}} - {{.Message}}`,
	"info":    `[{{.Time}}] #{{printf "%-8s" .Level}} - {{.Logger}} - {{.Message}}`,
}

var levelStyles = map[zapcore.Level]lipgloss.Style{
	zapcore.DebugLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true),
	zapcore.InfoLevel:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	zapcore.WarnLevel:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	zapcore.ErrorLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	zapcore.DPanicLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("196")).Bold(true),
}

// NewFormatter 按类型构造格式化器
func NewFormatter(fc config.FormatterConfig) (Formatter, error) {
	clock := timeFormat{layout: convertDateFormat(fc.DateFormat), utc: fc.UTC}
	if clock.layout == "" {
		clock.layout = config.DefaultDateFormat
	}

	switch fc.Class {
	case config.TextFormatter, "":
		return newTextFormatter(fc.Format, clock, fc.Color)
	case config.DataFileFormatter:
		return &dataFileFormatter{clock: clock}, nil
	case config.DataConsoleFormatter:
		return &dataFileFormatter{clock: clock, short: true}, nil
	case config.DataInfluxFormatter:
		return &influxFormatter{tags: fc.Tags}, nil
	case config.NoOpFormatter:
		return &noopFormatter{clock: clock}, nil
	default:
		return nil, fmt.Errorf("%w: unknown formatter class %q", config.ErrInvalid, fc.Class)
	}
}

type timeFormat struct {
	layout string
	utc    bool
}

func (t timeFormat) format(ts time.Time) string {
	if t.utc {
		ts = ts.UTC()
	} else {
		ts = ts.Local()
	}
	return ts.Format(t.layout)
}

type textFormatter struct {
	tmpl  *template.Template
	clock timeFormat
	color bool
}

type textView struct {
	Time     string
	Level    string
	File     string
	Path     string
	Line     int
	Function string
	Logger   string
	Message  string
}

func newTextFormatter(format string, clock timeFormat, color bool) (*textFormatter, error) {
	if format == "" {
		format = "default"
	}
	if preset, ok := textPresets[format]; ok {
		format = preset
	} else if strings.Contains(format, "%(") {
		var err error
		if format, err = convertPercentFormat(format); err != nil {
			return nil, err
		}
	}
	tmpl, err := template.New("record").Option("missingkey=error").Parse(format)
	if err != nil {
		return nil, fmt.Errorf("%w: bad format template: %v", config.ErrInvalid, err)
	}
	// 未知字段只有执行时才会暴露
	if err := tmpl.Execute(&bytes.Buffer{}, textView{}); err != nil {
		return nil, fmt.Errorf("%w: bad format template: %v", config.ErrInvalid, err)
	}
	return &textFormatter{tmpl: tmpl, clock: clock, color: color}, nil
}

func (f *textFormatter) Format(rec *Record) ([]byte, error) {
	level := config.LevelName(rec.Level)
	if f.color {
		style, ok := levelStyles[rec.Level]
		if !ok {
			style = levelStyles[zapcore.DPanicLevel]
		}
		level = style.Render(fmt.Sprintf("%-8s", level))
	}

	view := textView{
		Time:     f.clock.format(rec.Time),
		Level:    level,
		File:     filepath.Base(rec.File),
		Path:     rec.File,
		Line:     rec.Line,
		Function: rec.Function,
		Logger:   rec.Logger,
		Message:  rec.Message,
	}

	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, view); err != nil {
		return nil, err
	}
	if e := rec.Err(); e != "" {
		buf.WriteByte('\n')
		buf.WriteString(e)
	}
	if rec.Stack != "" {
		buf.WriteByte('\n')
		buf.WriteString(rec.Stack)
	}
	return buf.Bytes(), nil
}

// noopFormatter 只登记发生了什么，不输出上下文
type noopFormatter struct {
	clock timeFormat
}

func (f *noopFormatter) Format(rec *Record) ([]byte, error) {
	what := rec.Reason
	if what == "" {
		what = rec.Message
	}
	return fmt.Appendf(nil, "[%s] #%-8s - %s", f.clock.format(rec.Time), config.LevelName(rec.Level), what), nil
}

var percentField = regexp.MustCompile(`%\((\w+)\)([-#+ 0]*\d*(?:\.\d+)?)([sdfr])`)

var percentAttrs = map[string]string{
	"asctime":   ".Time",
	"levelname": ".Level",
	"filename":  ".File",
	"pathname":  ".Path",
	"lineno":    ".Line",
	"funcName":  ".Function",
	"name":      ".Logger",
	"message":   ".Message",
}

// convertPercentFormat 把 %(name)s 风格的格式转换成模板
func convertPercentFormat(format string) (string, error) {
	var unknown string
	out := percentField.ReplaceAllStringFunc(format, func(m string) string {
		parts := percentField.FindStringSubmatch(m)
		attr, ok := percentAttrs[parts[1]]
		if !ok {
			unknown = parts[1]
			return m
		}
		if parts[2] == "" {
			return "{{" + attr + "}}"
		}
		verb := "v"
		if parts[3] == "f" {
			verb = "f"
		}
		return fmt.Sprintf(`{{printf "%%%s%s" %s}}`, parts[2], verb, attr)
	})
	if unknown != "" {
		return "", fmt.Errorf("%w: unsupported record attribute %q", config.ErrInvalid, unknown)
	}
	return out, nil
}

var strftime = strings.NewReplacer(
	"%Y", "2006", "%y", "06", "%m", "01", "%d", "02",
	"%H", "15", "%I", "03", "%M", "04", "%S", "05", "%p", "PM",
	"%f", "000000", "%b", "Jan", "%B", "January", "%a", "Mon", "%A", "Monday",
	"%j", "002", "%z", "-0700", "%Z", "MST", "%%", "%",
)

// convertDateFormat 兼容 strftime 风格的日期格式
func convertDateFormat(layout string) string {
	if !strings.Contains(layout, "%") {
		return layout
	}
	return strftime.Replace(layout)
}
