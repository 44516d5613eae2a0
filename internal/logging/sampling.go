package logging

import (
	"go.uber.org/zap/zapcore"
)

// sample thins repeated entries below error level. Errors always pass.
func sample(core zapcore.Core, s Sampling) zapcore.Core {
	if !s.Enabled {
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		levelRange{Core: core, max: zapcore.WarnLevel},
		s.Tick, s.Initial, s.Thereafter,
	)
	return zapcore.NewTee(levelRange{Core: core, min: zapcore.ErrorLevel, hasMin: true}, sampled)
}

// levelRange passes entries within [min, max]. A zero max means no upper
// bound; hasMin distinguishes a min of DebugLevel from no lower bound.
type levelRange struct {
	zapcore.Core
	min, max zapcore.Level
	hasMin   bool
}

func (c levelRange) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.min {
		return false
	}
	if c.max != 0 && lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c levelRange) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelRange) With(fields []zapcore.Field) zapcore.Core {
	c.Core = c.Core.With(fields)
	return c
}
