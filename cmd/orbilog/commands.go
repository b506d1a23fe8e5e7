package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nstitov/orbisat"
	"github.com/nstitov/orbisat/config"
	"github.com/nstitov/orbisat/core"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newViper 标志可由 ORBILOG_* 环境变量提供
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("orbilog")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orbilog",
		Short:         "orbisat logging pipeline tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", "", "optional .env file with secrets")
	root.AddCommand(newCheckCmd(), newEmitCmd(), newParseCmd())
	return root
}

func loadSecrets(v *viper.Viper) (*config.Secrets, error) {
	return config.NewSecrets(v.GetString("env-file"))
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config>",
		Short: "Validate a logging document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			secrets, err := loadSecrets(v)
			if err != nil {
				return err
			}
			cfg, err := config.Load(args[0], secrets)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", args[0])
			for _, name := range sortedNames(cfg.Handlers) {
				hc := cfg.Handlers[name]
				state := "enabled"
				if !hc.IsEnabled() {
					state = "disabled"
				}
				fmt.Fprintf(out, "handler %-16s %-20s %-8s %s\n", name, hc.Class, hc.Level, state)
			}
			for _, name := range sortedNames(cfg.Loggers) {
				lc := cfg.Loggers[name]
				fmt.Fprintf(out, "logger  %-16s %-8s %s\n", name, lc.Level, strings.Join(lc.Handlers, ","))
			}
			if cfg.Root != nil {
				fmt.Fprintf(out, "logger  %-16s %-8s %s\n", core.RootLogger, cfg.Root.Level, strings.Join(cfg.Root.Handlers, ","))
			}
			return nil
		},
	}
}

func newEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Send one record through a routing table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			secrets, err := loadSecrets(v)
			if err != nil {
				return err
			}

			var opts []orbisat.Option
			if dir := v.GetString("base-dir"); dir != "" {
				opts = append(opts, orbisat.WithBaseDir(dir))
			}
			opts = append(opts, orbisat.WithStdout(cmd.OutOrStdout()), orbisat.WithStderr(cmd.ErrOrStderr()))

			var table *orbisat.Table
			if path := v.GetString("config"); path != "" {
				table, err = orbisat.Open(path, secrets, opts...)
			} else {
				table, err = orbisat.OpenServer(secrets, opts...)
			}
			if err != nil {
				return err
			}
			defer table.Close()

			return emit(table.Logger(v.GetString("logger")), v)
		},
	}
	f := cmd.Flags()
	f.String("config", "", "logging document (default: built-in server table)")
	f.String("base-dir", "", "base directory for relative log files")
	f.String("logger", "orbisat", "logger name")
	f.String("level", "INFO", "record level")
	f.String("message", "", "record message")
	f.String("measurement", "", "emit a data point with this measurement")
	f.StringSlice("field", nil, "data field key=value")
	f.StringSlice("tag", nil, "data tag key=value")
	f.String("nodata", "", "emit a no-data record with this reason")
	return cmd
}

func emit(log *orbisat.Logger, v *viper.Viper) error {
	if reason := v.GetString("nodata"); reason != "" {
		log.NoData(reason)
		return nil
	}

	if m := v.GetString("measurement"); m != "" {
		fields := map[string]any{}
		for _, kv := range v.GetStringSlice("field") {
			k, val, err := splitPair(kv)
			if err != nil {
				return err
			}
			fields[k] = parseValue(val)
		}
		tags := map[string]string{}
		for _, kv := range v.GetStringSlice("tag") {
			k, val, err := splitPair(kv)
			if err != nil {
				return err
			}
			tags[k] = val
		}
		p := orbisat.Point{Time: time.Now(), Measurement: m, Tags: tags, Fields: fields}
		if !p.Valid() {
			return errors.New("data point needs at least one --field")
		}
		log.Data(p)
		return nil
	}

	level, err := config.ParseLevel(v.GetString("level"))
	if err != nil {
		return err
	}
	msg := v.GetString("message")
	switch level {
	case config.DebugLevel, config.NotSetLevel:
		log.Debug(msg)
	case config.InfoLevel:
		log.Info(msg)
	case config.WarningLevel:
		log.Warn(msg)
	case config.ErrorLevel:
		log.Error(msg)
	default:
		log.Critical(msg)
	}
	return nil
}

func splitPair(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", kv)
	}
	return k, v, nil
}

// parseValue 按整数、浮点、布尔、字符串的顺序识别
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

type pointJSON struct {
	Time        time.Time         `json:"time"`
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      map[string]any    `json:"fields"`
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <data.log>",
		Short: "Decode data lines into JSON points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return parseLines(in, cmd.OutOrStdout())
		},
	}
}

// parseLines 跳过非数据行，遇到损坏的数据行时报告行号
func parseLines(in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		p, err := core.ParseDataLine(sc.Bytes())
		if errors.Is(err, core.ErrNotDataLine) {
			continue
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := enc.Encode(pointJSON{Time: p.Time, Measurement: p.Measurement, Tags: p.Tags, Fields: p.Fields}); err != nil {
			return err
		}
	}
	return sc.Err()
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
