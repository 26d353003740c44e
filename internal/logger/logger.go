package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	logLevel      slog.Level = slog.LevelInfo
)

// Init initializes the logger with the specified level and format, writing to stdout
func Init(level string, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter initializes the logger on an arbitrary writer (used by tests)
func InitWithWriter(w io.Writer, level string, format string) {
	lvl := parseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String("timestamp", a.Value.Time().Format(time.RFC3339))
				}
				return a
			},
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}

	mu.Lock()
	logLevel = lvl
	defaultLogger = slog.New(handler)
	mu.Unlock()
}

// parseLevel parses a log level string
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Level returns the active log level
func Level() slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// Get returns the default logger, initializing it lazily
func Get() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		Init("INFO", "text")
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l
}

// With returns a child logger carrying the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

// ProgressLogger logs "current / total" progress lines for a long running step
type ProgressLogger struct {
	logger *slog.Logger
	step   string
	total  int64
}

// NewProgressLogger creates a progress logger for the named step
func NewProgressLogger(step string, total int64) *ProgressLogger {
	return &ProgressLogger{
		logger: Get(),
		step:   step,
		total:  total,
	}
}

// Log logs the current progress; position is the local enumeration position
func (pl *ProgressLogger) Log(current, position int64) {
	pl.logger.Info(fmt.Sprintf("%s %d / %d objects", pl.step, current, pl.total),
		"type", "progress",
		"position", position)
}
