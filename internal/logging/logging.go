// Package logging builds the process logger and records errors with their
// type chain and caller location.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

type Config struct {
	// Level is one of debug, info, warn or error. Unknown values mean info.
	Level string
	// Format is "json" or "text".
	Format string
	Output io.Writer
}

func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Error logs err at error level along with where it was logged from and the
// chain of error types it wraps.
func Error(log *slog.Logger, msg string, err error, args ...any) {
	if log == nil || err == nil {
		return
	}
	attrs := append([]any{
		"error", err.Error(),
		"error_types", strings.Join(errorTypes(err), "->"),
		"at", callerLocation(2),
	}, args...)
	log.Error(msg, attrs...)
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func errorTypes(err error) []string {
	types := []string{}
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return types
}
