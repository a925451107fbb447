package main

import (
	"log/slog"
	"os"
)

func buildLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	ops := &slog.HandlerOptions{
		Level: lvl,
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, ops))
}

func errAttr(err error) slog.Attr {
	return slog.Any("error", err)
}
