package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the daemon logger. Its methods take a context and prepend the
// correlation fields found there.
type Logger struct {
	base *zap.Logger
	// zap skips one extra frame for the ctx-aware wrappers.
	zap *zap.Logger
}

// NewLogger builds a logger from cfg. otelProvider may be nil, in which case
// the OTEL output is skipped even when enabled.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	core, err := newCore(cfg, otelProvider)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller())
	}

	z := zap.New(core, opts...)
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		z = z.With(fields...)
	}
	return wrap(z), nil
}

func wrap(z *zap.Logger) *Logger {
	return &Logger{base: z, zap: z.WithOptions(zap.AddCallerSkip(1))}
}

// newCore tees the console and OTEL outputs and applies sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Stdout {
		enc, err := newRedactingEncoder(newEncoder(cfg.Format), cfg.RedactKeys, cfg.RedactPatterns)
		if err != nil {
			return nil, err
		}
		out := zapcore.Lock(os.Stdout)
		if cfg.Stderr {
			out = zapcore.Lock(os.Stderr)
		}
		cores = append(cores, zapcore.NewCore(enc, out, cfg.Level))
	}
	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("github.com/fyrsmithlabs/ctxgraph",
			otelzap.WithLoggerProvider(otelProvider)))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log output available")
	}

	return sample(zapcore.NewTee(cores...), cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, withContext(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, withContext(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, withContext(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, withContext(ctx, fields)...)
}

func withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	cf := ContextFields(ctx)
	if len(cf) == 0 {
		return fields
	}
	return append(cf, fields...)
}

// Component returns a plain zap logger named after one engine component.
// Library packages take a *zap.Logger; this is how the daemon hands them one.
func (l *Logger) Component(name string) *zap.Logger {
	return l.base.Named(name)
}

// Underlying returns the wrapped zap logger.
func (l *Logger) Underlying() *zap.Logger {
	return l.base
}

// Sync flushes buffered entries. Sync errors from a terminal stdout or stderr
// are ignored.
func (l *Logger) Sync() error {
	err := l.base.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
