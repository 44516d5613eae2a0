package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserved returns a logger that records every entry at level or above,
// for assertions in tests.
func NewObserved(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return wrap(zap.New(core)), logs
}
