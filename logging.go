package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
)

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes JSON records to w, or colored console output when
// ENV=development.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := parseLevel(level)

	if os.Getenv("ENV") == "development" {
		return slog.New(console.NewHandler(w, &console.HandlerOptions{
			AddSource: true,
			Level:     lvl,
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
			}
			return a
		},
	}))
}
