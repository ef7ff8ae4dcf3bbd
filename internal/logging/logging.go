// Package logging builds the run logger: a debug-level file log in the output
// directory plus an optional console log at the configured level.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"clonefreq/internal/core"
)

// Options configures New.
type Options struct {
	// Level applies to the console output; the file always records debug.
	Level string
	// File is the log file path; empty disables the file output.
	File    string
	Console bool
	// ConsoleWriter defaults to stderr.
	ConsoleWriter io.Writer
}

// Logger adapts a zap logger to core.Logger.
type Logger struct {
	z     *zap.Logger
	sugar *zap.SugaredLogger
	file  *os.File
}

var _ core.Logger = (*Logger)(nil)

// New opens the configured outputs. Close flushes and releases the file.
func New(opts Options) (*Logger, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var cores []zapcore.Core
	var file *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), zapcore.DebugLevel))
	}
	if opts.Console {
		w := opts.ConsoleWriter
		if w == nil {
			w = os.Stderr
		}
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level))
	}
	l := FromZap(zap.New(zapcore.NewTee(cores...)))
	l.file = file
	return l, nil
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z, sugar: z.Sugar()}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(name string) *Logger { return FromZap(l.z.Named(name)) }

func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	_ = l.z.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
