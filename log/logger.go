package log

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelStrings = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// ParseLevel maps a level name to a Level. Unknown names fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR", "CRITICAL":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelStrings) {
		return levelStrings[l]
	}
	return "INFO"
}

// Format selects the line encoding of a logger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format. Anything but "json" is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// NameKey is the field holding the logger name set by Named.
const NameKey = "logger"

// Logger writes leveled, structured log lines.
type Logger interface {
	// With adds persistent fields to a derived logger.
	// Accepts either alternating "key", value pairs or a single map[string]any.
	With(args ...any) Logger

	// WithError adds a persistent "error" field to a derived logger.
	WithError(err error) Logger

	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

// Named derives a logger carrying name under NameKey.
func Named(l Logger, name string) Logger {
	return l.With(NameKey, name)
}

// encoder writes one complete log line, including the trailing newline.
type encoder func(w io.Writer, ts time.Time, level Level, msg string, fields map[string]any) error

// New returns a JSON logger writing to w.
func New(level Level, w io.Writer) Logger {
	return newLogger(level, w, encodeJSON)
}

// NewText returns a logger writing "LEVEL    time name message key=value" lines to w.
func NewText(level Level, w io.Writer) Logger {
	return newLogger(level, w, encodeText)
}

// NewWithFormat returns a logger using the given line format.
func NewWithFormat(format Format, level Level, w io.Writer) Logger {
	if format == FormatJSON {
		return New(level, w)
	}
	return NewText(level, w)
}

type logger struct {
	level  Level
	out    io.Writer
	mu     *sync.Mutex // shared by every logger derived from the same root
	fields map[string]any
	enc    encoder
	now    func() time.Time
}

func newLogger(level Level, w io.Writer, enc encoder) *logger {
	if w == nil {
		w = io.Discard
	}
	return &logger{level: level, out: w, mu: &sync.Mutex{}, enc: enc, now: time.Now}
}

func (l *logger) With(args ...any) Logger {
	newFields := parseArgs(args...)
	child := *l
	if len(newFields) == 0 {
		return &child
	}

	child.fields = make(map[string]any, len(l.fields)+len(newFields))
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range newFields {
		child.fields[k] = v
	}
	return &child
}

func (l *logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

func (l *logger) log(_ context.Context, level Level, msg string, args []any) {
	if level < l.level {
		return
	}

	fields := l.fields
	if extra := parseArgs(args...); len(extra) > 0 {
		fields = make(map[string]any, len(l.fields)+len(extra))
		for k, v := range l.fields {
			fields[k] = v
		}
		for k, v := range extra {
			fields[k] = v
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc(l.out, l.now().UTC(), level, msg, fields); err != nil {
		_, _ = io.WriteString(l.out, `{"level":"ERROR","message":"failed to encode log entry"}`+"\n")
	}
}

func (l *logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args)
}

func (l *logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args)
}

func (l *logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args)
}

func (l *logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, args)
}

// parseArgs turns alternating key/value pairs (or a single map) into a field map.
// Non-string keys and a dangling final key are dropped.
func parseArgs(args ...any) map[string]any {
	if len(args) == 0 {
		return nil
	}

	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			return m
		}
		return nil
	}

	out := make(map[string]any, (len(args)+1)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			out[k] = args[i+1]
		}
	}
	return out
}
