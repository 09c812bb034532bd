// Package log is the structured logger shared by the executor, the robot
// simulator and pathrunner-ctl. It is backed by zap; key/value pairs follow
// the logr convention and pass through toFields for redaction.
package log

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is what components log through. Obtain one with WithName from the
// process logger, or carry it in a context with WithContext.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	// Error attaches err under the "error" key when it is non-nil.
	Error(err error, msg string, keysAndValues ...any)

	// WithName appends a dot-separated segment to the logger name.
	WithName(name string) Logger
	// WithValues binds pairs to every entry of the returned logger.
	WithValues(keysAndValues ...any) Logger

	// Logr adapts the logger for libraries that take a logr.Logger.
	Logr() logr.Logger

	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	z *zap.Logger
}

// durations are logged as fractional milliseconds, the unit the protocol
// timeouts are configured in
func encodeMillis(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}

func newEncoderConfig(opts *Options) zapcore.EncoderConfig {
	levelEncoder := zapcore.CapitalLevelEncoder
	if opts.Format == "console" && opts.EnableColor {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: encodeMillis,
	}
}

// parseLevel falls back to info on anything zap does not recognise.
func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// NewLogger builds a zap-backed Logger. A nil opts uses NewOptions. It
// panics if zap rejects the configuration, which only happens for an
// unknown format or an unopenable output path.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		DisableCaller:    opts.DisableCaller,
		Encoding:         opts.Format,
		EncoderConfig:    newEncoderConfig(opts),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("log: invalid configuration: %v", err))
	}
	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return &zapLogger{z: z}
}

func (l *zapLogger) Debug(msg string, kv ...any) { l.z.Debug(msg, toFields(kv...)...) }
func (l *zapLogger) Info(msg string, kv ...any)  { l.z.Info(msg, toFields(kv...)...) }
func (l *zapLogger) Warn(msg string, kv ...any)  { l.z.Warn(msg, toFields(kv...)...) }

func (l *zapLogger) Error(err error, msg string, kv ...any) {
	fields := toFields(kv...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) WithValues(kv ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(kv...)...)}
}

func (l *zapLogger) Logr() logr.Logger { return zapr.NewLogger(l.z) }

func (l *zapLogger) Sync() error { return l.z.Sync() }

// The process logger discards everything until Init runs, so packages can
// log from tests without setup.
var (
	initOnce sync.Once
	std      = NewNopLogger()
)

// Init installs the process logger. Later calls are ignored.
func Init(opts *Options) {
	initOnce.Do(func() { std = NewLogger(opts) })
}

// Std returns the process logger.
func Std() Logger { return std }

func NewNopLogger() Logger { return &zapLogger{z: zap.NewNop()} }

func Debug(msg string, kv ...any)            { std.Debug(msg, kv...) }
func Info(msg string, kv ...any)             { std.Info(msg, kv...) }
func Warn(msg string, kv ...any)             { std.Warn(msg, kv...) }
func Error(err error, msg string, kv ...any) { std.Error(err, msg, kv...) }
func WithName(name string) Logger            { return std.WithName(name) }
func WithValues(kv ...any) Logger            { return std.WithValues(kv...) }
func Logr() logr.Logger                      { return std.Logr() }
func Sync() error                            { return std.Sync() }

type loggerKey struct{}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger carried by ctx, or the process logger.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return std
	}
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return std
}
