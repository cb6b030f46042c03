// Package logging renders sing logger calls through log/slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sagernet/sing-shadowpool/config"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/common/logger"
)

const LevelTrace = slog.LevelDebug - 4

var _ logger.ContextLogger = (*Logger)(nil)

type Logger struct {
	logger *slog.Logger
	closer io.Closer
}

// New builds a logger from the logging section of the configuration.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "trace":
		level = LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var output io.Writer
	var closer io.Closer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		output = file
		closer = file
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return &Logger{logger: slog.New(handler), closer: closer}, nil
}

// NewWithHandler wraps an existing slog handler.
func NewWithHandler(handler slog.Handler) *Logger {
	return &Logger{logger: slog.New(handler)}
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) log(ctx context.Context, level slog.Level, args []any) {
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, F.ToString(args...))
}

func (l *Logger) Trace(args ...any) {
	l.log(context.Background(), LevelTrace, args)
}

func (l *Logger) Debug(args ...any) {
	l.log(context.Background(), slog.LevelDebug, args)
}

func (l *Logger) Info(args ...any) {
	l.log(context.Background(), slog.LevelInfo, args)
}

func (l *Logger) Warn(args ...any) {
	l.log(context.Background(), slog.LevelWarn, args)
}

func (l *Logger) Error(args ...any) {
	l.log(context.Background(), slog.LevelError, args)
}

func (l *Logger) Fatal(args ...any) {
	l.FatalContext(context.Background(), args...)
}

func (l *Logger) Panic(args ...any) {
	l.PanicContext(context.Background(), args...)
}

func (l *Logger) TraceContext(ctx context.Context, args ...any) {
	l.log(ctx, LevelTrace, args)
}

func (l *Logger) DebugContext(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelDebug, args)
}

func (l *Logger) InfoContext(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelInfo, args)
}

func (l *Logger) WarnContext(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelWarn, args)
}

func (l *Logger) ErrorContext(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelError, args)
}

func (l *Logger) FatalContext(ctx context.Context, args ...any) {
	l.log(ctx, slog.LevelError, args)
	os.Exit(1)
}

func (l *Logger) PanicContext(ctx context.Context, args ...any) {
	message := F.ToString(args...)
	l.logger.Log(ctx, slog.LevelError, message)
	panic(message)
}
