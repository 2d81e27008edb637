package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger every package takes. Request handlers
// get a request-scoped one from the context.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App       string
	Version   string
	Commit    string
	BuildMode string

	Level slog.Level
	// StacktraceLevel attaches a stack from this level up; nil means error.
	StacktraceLevel slog.Leveler

	JsonFormat        bool
	MaxErrorLinks     int
	IncludeErrorLinks bool

	// Writer defaults to stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

var levelsByName = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a configured level name, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelsByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
}

// LevelSpecial sits between info and warn and renders as "special". Titled
// lifecycle records (request dispatch, listener startup) use it so they
// survive an info filter but can be grepped apart from routine logs.
const LevelSpecial = slog.Level(2)

type specialLogger interface {
	Special(ctx context.Context, msg string, kv ...any)
}

// Record writes a titled event {title, level, msg} plus kv. Loggers that
// do not support LevelSpecial receive it at info.
func Record(ctx context.Context, L Logger, title, message string, kv ...any) {
	if L == nil {
		return
	}
	fields := make([]any, 0, len(kv)+2)
	fields = append(fields, "title", title)
	fields = append(fields, kv...)
	if sl, ok := L.(specialLogger); ok {
		sl.Special(ctx, message, fields...)
		return
	}
	L.Info(ctx, message, fields...)
}
