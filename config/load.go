package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Secrets 为 ${VAR} 占位符提供取值：环境变量优先，其次是 .env 文件
type Secrets struct {
	v *viper.Viper
}

// NewSecrets 创建密钥查找器，envFile 为空时只读取环境变量
func NewSecrets(envFile string) (*Secrets, error) {
	v := viper.New()
	v.AutomaticEnv()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	return &Secrets{v: v}, nil
}

// Lookup 查找变量
func (s *Secrets) Lookup(key string) (string, bool) {
	if s == nil || s.v == nil {
		return os.LookupEnv(key)
	}
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

// Set 覆盖变量，测试和命令行使用
func (s *Secrets) Set(key, value string) {
	s.v.Set(key, value)
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

func expand(s string, secrets *Secrets) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if v, ok := secrets.Lookup(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}

// expandNode 只替换标量内容，替换后的纯量重新推断类型
func expandNode(n *yaml.Node, secrets *Secrets) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = expand(n.Value, secrets)
		if n.Style == 0 {
			n.Tag = ""
		}
	}
	for _, c := range n.Content {
		expandNode(c, secrets)
	}
}

type rawDocument struct {
	Version                int                  `yaml:"version"`
	DisableExistingLoggers bool                 `yaml:"disable_existing_loggers"`
	Incremental            bool                 `yaml:"incremental"`
	Formatters             map[string]yaml.Node `yaml:"formatters"`
	Filters                map[string]yaml.Node `yaml:"filters"`
	Handlers               map[string]yaml.Node `yaml:"handlers"`
	Loggers                map[string]yaml.Node `yaml:"loggers"`
	Root                   yaml.Node            `yaml:"root"`
}

func strictDecode(n *yaml.Node, v any) error {
	if n == nil || n.Kind == 0 {
		return nil
	}
	b, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Load 读取并解析 YAML 路由文档
func Load(path string, secrets *Secrets) (*LoggingConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logging config: %w", err)
	}
	cfg, err := Parse(b, secrets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析 YAML 路由文档并完成校验
func Parse(data []byte, secrets *Secrets) (*LoggingConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &Error{Section: "document", Err: err}
	}
	expandNode(&root, secrets)

	var raw rawDocument
	if err := strictDecode(&root, &raw); err != nil {
		return nil, &Error{Section: "document", Err: err}
	}
	if raw.Incremental {
		return nil, invalid("document", "", "incremental configuration is not supported")
	}

	cfg := &LoggingConfig{
		Version:                raw.Version,
		DisableExistingLoggers: raw.DisableExistingLoggers,
		Formatters:             make(map[string]FormatterConfig, len(raw.Formatters)),
		Filters:                make(map[string]FilterConfig, len(raw.Filters)),
		Handlers:               make(map[string]HandlerConfig, len(raw.Handlers)),
		Loggers:                make(map[string]LoggerConfig, len(raw.Loggers)),
	}

	for name, node := range raw.Formatters {
		var fc struct {
			FormatterConfig `yaml:",inline"`
			Factory         string `yaml:"()"`
		}
		if err := strictDecode(&node, &fc); err != nil {
			return nil, &Error{Section: "formatter", Name: name, Err: err}
		}
		if fc.Factory != "" {
			fc.Class = FormatterClass(fc.Factory)
		}
		cfg.Formatters[name] = fc.FormatterConfig
	}

	for name, node := range raw.Filters {
		var fc struct {
			FilterConfig `yaml:",inline"`
			Factory      string `yaml:"()"`
		}
		if err := strictDecode(&node, &fc); err != nil {
			return nil, &Error{Section: "filter", Name: name, Err: err}
		}
		if fc.Factory != "" {
			fc.Class = FilterClass(fc.Factory)
		}
		if fc.Class == "" {
			return nil, invalid("filter", name, "filter class is required")
		}
		cfg.Filters[name] = fc.FilterConfig
	}

	for name, node := range raw.Handlers {
		hc, err := decodeHandler(&node)
		if err != nil {
			return nil, &Error{Section: "handler", Name: name, Err: err}
		}
		cfg.Handlers[name] = hc
	}

	for name, node := range raw.Loggers {
		var lc LoggerConfig
		if err := strictDecode(&node, &lc); err != nil {
			return nil, &Error{Section: "logger", Name: name, Err: err}
		}
		cfg.Loggers[name] = lc
	}

	if raw.Root.Kind != 0 {
		var lc LoggerConfig
		if err := strictDecode(&raw.Root, &lc); err != nil {
			return nil, &Error{Section: "root", Err: err}
		}
		cfg.Root = &lc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeHandler 先读取 class，再按类型严格解码其余选项
func decodeHandler(node *yaml.Node) (HandlerConfig, error) {
	var head struct {
		Class   string `yaml:"class"`
		Factory string `yaml:"()"`
	}
	if node.Kind != 0 {
		if err := node.Decode(&head); err != nil {
			return HandlerConfig{}, err
		}
	}
	name := head.Class
	if head.Factory != "" {
		name = head.Factory
	}
	class, ok := resolveHandlerClass(name)
	if !ok {
		return HandlerConfig{}, fmt.Errorf("unknown handler class: %q", name)
	}

	var (
		hc  HandlerConfig
		err error
	)
	switch class {
	case StreamHandler:
		var opts *StreamConfig
		hc, opts, err = decodeOptions[StreamConfig](node)
		hc.Stream = opts
	case FileHandler:
		var opts *FileConfig
		hc, opts, err = decodeOptions[FileConfig](node)
		hc.File = opts
	case TimedRotatingFile:
		var opts *TimedRotationConfig
		hc, opts, err = decodeOptions[TimedRotationConfig](node)
		hc.Timed = opts
	case SizeRotatingFile:
		var opts *SizeRotationConfig
		hc, opts, err = decodeOptions[SizeRotationConfig](node)
		hc.Rotating = opts
	case InfluxDBHandler:
		var opts *InfluxDBConfig
		hc, opts, err = decodeOptions[InfluxDBConfig](node)
		hc.InfluxDB = opts
	case SQLHandler:
		var opts *DatabaseConfig
		hc, opts, err = decodeOptions[DatabaseConfig](node)
		hc.Database = opts
	case SyslogHandler:
		var opts *SyslogConfig
		hc, opts, err = decodeOptions[SyslogConfig](node)
		hc.Syslog = opts
	case AMQPHandler:
		var opts *AMQPConfig
		hc, opts, err = decodeOptions[AMQPConfig](node)
		hc.AMQP = opts
	}
	if err != nil {
		return HandlerConfig{}, err
	}
	hc.Class = class
	return hc, nil
}

func decodeOptions[T any](node *yaml.Node) (HandlerConfig, *T, error) {
	var w struct {
		HandlerConfig `yaml:",inline"`
		Factory       string `yaml:"()"`
		Options       T      `yaml:",inline"`
	}
	if err := strictDecode(node, &w); err != nil {
		return HandlerConfig{}, nil, err
	}
	return w.HandlerConfig, &w.Options, nil
}
