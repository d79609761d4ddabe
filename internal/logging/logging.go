// Package logging is the controller's log/slog front end. Components receive
// a Logger, tag it once with Component and log with context so shutdown and
// task cancellation flow through the same calls. Records go to stderr unless
// Config.Output says otherwise; stdout belongs to the command link.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Field is one key/value pair attached to a record.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Float(key string, value float64) Field          { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value any) Field                { return Field{key, value} }

// Component names the subsystem a logger belongs to.
func Component(name string) Field { return Field{"component", name} }

// Err records err's message under "error". A nil error logs as null.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Logger is what every package in the controller logs through.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects the level, encoding and destination of a Logger.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	Output io.Writer // nil means stderr
}

// New builds a Logger from cfg. Unknown levels fall back to info and
// unknown formats to text.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level)}

	if strings.EqualFold(cfg.Format, "json") {
		return logger{slog.New(slog.NewJSONHandler(out, opts))}
	}
	return logger{slog.New(slog.NewTextHandler(out, opts))}
}

// Noop discards everything.
func Noop() Logger { return logger{slog.New(slog.DiscardHandler)} }

// OrNoop lets constructors accept a nil Logger.
func OrNoop(l Logger) Logger {
	if l == nil {
		return Noop()
	}
	return l
}

type logger struct {
	l *slog.Logger
}

func (g logger) With(fields ...Field) Logger {
	return logger{slog.New(g.l.Handler().WithAttrs(attrs(fields)))}
}

func (g logger) Debug(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelDebug, msg, attrs(fields)...)
}

func (g logger) Info(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelInfo, msg, attrs(fields)...)
}

func (g logger) Warn(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelWarn, msg, attrs(fields)...)
}

func (g logger) Error(ctx context.Context, msg string, fields ...Field) {
	g.l.LogAttrs(ctx, slog.LevelError, msg, attrs(fields)...)
}

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}

// levelOf accepts slog's own spellings ("warn", "INFO+2") plus "warning".
func levelOf(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
