package core

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/valyala/fastjson"
)

const dataTag = "DATA"

var (
	// ErrNotDataLine 行中没有数据记录
	ErrNotDataLine = errors.New("not a data line")

	arenas  fastjson.ArenaPool
	parsers fastjson.ParserPool
)

// dataFileFormatter 输出 `[时间] #DATA     - {json}`，short 时只保留测量名和字段
type dataFileFormatter struct {
	clock timeFormat
	short bool
}

func (f *dataFileFormatter) Format(rec *Record) ([]byte, error) {
	if rec.Data == nil {
		return nil, nil
	}
	a := arenas.Get()
	defer arenas.Put(a)

	obj, err := pointJSON(a, rec.Data, f.short)
	if err != nil {
		return nil, err
	}
	out := fmt.Appendf(nil, "[%s] #%-8s - ", f.clock.format(rec.Time), dataTag)
	return obj.MarshalTo(out), nil
}

// pointJSON 按 time, measurement, fields, tags 的固定顺序构造对象
func pointJSON(a *fastjson.Arena, p *Point, short bool) (*fastjson.Value, error) {
	obj := a.NewObject()
	if !short {
		obj.Set("time", a.NewString(p.Time.Format(time.RFC3339Nano)))
	}
	obj.Set("measurement", a.NewString(p.Measurement))

	fields := a.NewObject()
	for _, k := range sortedKeys(p.Fields) {
		v, err := jsonValue(a, p.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields.Set(k, v)
	}
	obj.Set("fields", fields)

	if !short {
		tags := a.NewObject()
		for _, k := range sortedKeys(p.Tags) {
			tags.Set(k, a.NewString(p.Tags[k]))
		}
		obj.Set("tags", tags)
	}
	return obj, nil
}

func jsonValue(a *fastjson.Arena, v any) (*fastjson.Value, error) {
	switch x := v.(type) {
	case nil:
		return a.NewNull(), nil
	case string:
		return a.NewString(x), nil
	case []byte:
		return a.NewStringBytes(x), nil
	case bool:
		if x {
			return a.NewTrue(), nil
		}
		return a.NewFalse(), nil
	case int:
		return a.NewNumberString(strconv.FormatInt(int64(x), 10)), nil
	case int8:
		return a.NewNumberString(strconv.FormatInt(int64(x), 10)), nil
	case int16:
		return a.NewNumberString(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return a.NewNumberString(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return a.NewNumberString(strconv.FormatInt(x, 10)), nil
	case uint:
		return a.NewNumberString(strconv.FormatUint(uint64(x), 10)), nil
	case uint8:
		return a.NewNumberString(strconv.FormatUint(uint64(x), 10)), nil
	case uint16:
		return a.NewNumberString(strconv.FormatUint(uint64(x), 10)), nil
	case uint32:
		return a.NewNumberString(strconv.FormatUint(uint64(x), 10)), nil
	case uint64:
		return a.NewNumberString(strconv.FormatUint(x, 10)), nil
	case float32:
		return floatValue(a, float64(x), 32)
	case float64:
		return floatValue(a, x, 64)
	case time.Time:
		return a.NewString(x.Format(time.RFC3339Nano)), nil
	case time.Duration:
		return a.NewString(x.String()), nil
	case []any:
		arr := a.NewArray()
		for i, e := range x {
			ev, err := jsonValue(a, e)
			if err != nil {
				return nil, err
			}
			arr.SetArrayItem(i, ev)
		}
		return arr, nil
	case map[string]any:
		obj := a.NewObject()
		for _, k := range sortedKeys(x) {
			ev, err := jsonValue(a, x[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, ev)
		}
		return obj, nil
	case fmt.Stringer:
		return a.NewString(x.String()), nil
	default:
		return a.NewString(fmt.Sprint(x)), nil
	}
}

// floatValue 浮点数总是带小数点或指数，读回时仍是浮点数
func floatValue(a *fastjson.Arena, f float64, bits int) (*fastjson.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return a.NewNumberString(s), nil
}

// ParseDataLine 读回 data_file 格式的一行
// 整数读回为 int64，浮点数为 float64
func ParseDataLine(line []byte) (*Point, error) {
	line = bytes.TrimRight(line, "\r\n")
	marker := []byte("] #" + dataTag)
	i := bytes.Index(line, marker)
	if i < 0 || line[0] != '[' {
		return nil, ErrNotDataLine
	}
	rest := line[i+len(marker):]
	j := bytes.Index(rest, []byte(" - "))
	if j < 0 {
		return nil, ErrNotDataLine
	}
	body := rest[j+3:]

	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse data line: %w", err)
	}

	pt := &Point{
		Measurement: string(v.GetStringBytes("measurement")),
		Fields:      map[string]any{},
		Tags:        map[string]string{},
	}
	if ts := v.GetStringBytes("time"); len(ts) > 0 {
		if pt.Time, err = time.Parse(time.RFC3339Nano, string(ts)); err != nil {
			return nil, fmt.Errorf("parse data time: %w", err)
		}
	}
	if fields := v.GetObject("fields"); fields != nil {
		fields.Visit(func(key []byte, fv *fastjson.Value) {
			pt.Fields[string(key)] = goValue(fv)
		})
	}
	if tags := v.GetObject("tags"); tags != nil {
		tags.Visit(func(key []byte, tv *fastjson.Value) {
			if s, err := tv.StringBytes(); err == nil {
				pt.Tags[string(key)] = string(s)
			} else {
				pt.Tags[string(key)] = tv.String()
			}
		})
	}
	if !pt.Valid() {
		return nil, fmt.Errorf("parse data line: %w", ErrNotDataLine)
	}
	return pt, nil
}

func goValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNumber:
		// fastjson 的浮点解析不保证正确舍入，数值用原文重新解析
		raw := v.String()
		if !strings.ContainsAny(raw, ".eE") {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n
			}
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return v.GetFloat64()
		}
		return f
	case fastjson.TypeArray:
		items := v.GetArray()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = goValue(it)
		}
		return out
	case fastjson.TypeObject:
		out := map[string]any{}
		v.GetObject().Visit(func(key []byte, ov *fastjson.Value) {
			out[string(key)] = goValue(ov)
		})
		return out
	default:
		return nil
	}
}

// influxFormatter 输出 InfluxDB 行协议
type influxFormatter struct {
	tags map[string]string
}

func (f *influxFormatter) Format(rec *Record) ([]byte, error) {
	if rec.Data == nil {
		return nil, nil
	}
	fields := make(map[string]any, len(rec.Data.Fields))
	for k, v := range rec.Data.Fields {
		flattenField(fields, k, v)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("point %q has no writable fields", rec.Data.Measurement)
	}

	tags := make(map[string]string, len(f.tags)+len(rec.Data.Tags))
	for k, v := range f.tags {
		tags[k] = v
	}
	for k, v := range rec.Data.Tags {
		tags[k] = v
	}

	p := write.NewPoint(rec.Data.Measurement, tags, fields, rec.Data.Time)
	return []byte(strings.TrimRight(write.PointToLineProtocol(p, time.Nanosecond), "\n")), nil
}

// flattenField 展开嵌套字段：列表为 name_<序号>，映射为 name_<键>
func flattenField(out map[string]any, name string, v any) {
	switch x := v.(type) {
	case nil:
	case []any:
		for i, e := range x {
			flattenField(out, name+"_"+strconv.Itoa(i), e)
		}
	case map[string]any:
		for k, e := range x {
			flattenField(out, name+"_"+k, e)
		}
	case []float64:
		for i, e := range x {
			out[name+"_"+strconv.Itoa(i)] = e
		}
	case []int:
		for i, e := range x {
			out[name+"_"+strconv.Itoa(i)] = e
		}
	case []string:
		for i, e := range x {
			out[name+"_"+strconv.Itoa(i)] = e
		}
	default:
		out[name] = v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
