package core

import (
	"github.com/nstitov/orbisat/config"
	"go.uber.org/zap/zapcore"
)

// samplingCore 只对 WARNING 以下的条目采样
type samplingCore struct {
	zapcore.Core
	sampled zapcore.Core
}

// newSampler 按日志器配置包装采样器，未配置时原样返回
func newSampler(core zapcore.Core, cfg *config.SamplingConfig) zapcore.Core {
	if cfg == nil {
		return core
	}
	return &samplingCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, cfg.Tick, cfg.Initial, cfg.Thereafter),
	}
}

func (s *samplingCore) With(fields []zapcore.Field) zapcore.Core {
	return &samplingCore{
		Core:    s.Core.With(fields),
		sampled: s.sampled.With(fields),
	}
}

func (s *samplingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level >= zapcore.WarnLevel {
		return s.Core.Check(ent, ce)
	}
	return s.sampled.Check(ent, ce)
}
