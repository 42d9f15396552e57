// Package logger provides terminal logging for dbtwiz built on zap.
//
// Interactive commands want readable console output rather than JSON, so the
// default encoder is the console one. Fatal errors are rendered as a bordered
// panel before the process exits, matching the style of the rest of the tool.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is re-exported so callers don't need to import zap directly.
type Field = zapcore.Field

// Logger is the logging interface used throughout dbtwiz.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Named(name string) Logger
	Sync() error
}

type logger struct {
	zap *zap.Logger
}

// Config controls logger construction.
type Config struct {
	Level    string
	Encoding string // "console" or "json"
}

// Option mutates the logger configuration.
type Option func(*Config)

// WithLevel sets the minimum log level.
func WithLevel(level string) Option {
	return func(c *Config) { c.Level = level }
}

// WithEncoding selects the output encoding.
func WithEncoding(encoding string) Option {
	return func(c *Config) { c.Encoding = encoding }
}

// New creates a logger writing to stderr.
func New(opts ...Option) (Logger, error) {
	cfg := &Config{
		Level:    "info",
		Encoding: "console",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("can't parse log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)
	return &logger{zap: zap.New(core)}, nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() Logger {
	return &logger{zap: zap.NewNop()}
}

func (l *logger) Debug(msg string, fields ...Field) { l.zap.Debug(msg, fields...) }
func (l *logger) Info(msg string, fields ...Field)  { l.zap.Info(msg, fields...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.zap.Warn(msg, fields...) }
func (l *logger) Error(msg string, fields ...Field) { l.zap.Error(msg, fields...) }

func (l *logger) Named(name string) Logger {
	return &logger{zap: l.zap.Named(name)}
}

func (l *logger) Sync() error { return l.zap.Sync() }

// Field constructors, mirroring the zap ones we actually use.
func String(key, val string) Field      { return zap.String(key, val) }
func Int(key string, val int) Field     { return zap.Int(key, val) }
func Int64(key string, val int64) Field { return zap.Int64(key, val) }
func Bool(key string, val bool) Field   { return zap.Bool(key, val) }
func Err(err error) Field               { return zap.Error(err) }
func Strings(key string, val []string) Field {
	return zap.Strings(key, val)
}

// Fatal prints a bordered error panel to stderr and exits with code 1.
// Every fatal path in the tool funnels through here so the user always sees
// the same clearly delimited failure report.
func Fatal(msg string, exitCode ...int) {
	fmt.Fprint(os.Stderr, panel(msg))
	code := 1
	if len(exitCode) > 0 {
		code = exitCode[0]
	}
	os.Exit(code)
}

// panel renders a message inside a box sized to its longest line, capped at
// 100 columns.
func panel(msg string) string {
	lines := strings.Split(msg, "\n")
	width := 0
	for _, line := range lines {
		if len(line) > width {
			width = len(line)
		}
	}
	if width > 100 {
		width = 100
	}
	border := strings.Repeat("─", width+2)
	var b strings.Builder
	fmt.Fprintf(&b, "┌%s┐\n", border)
	for _, line := range lines {
		fmt.Fprintf(&b, "│ %-*s │\n", width, line)
	}
	fmt.Fprintf(&b, "└%s┘\n", border)
	return b.String()
}
