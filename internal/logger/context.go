// Package logger provides [slog] helpers for process startup, before
// the per-connection zerolog loggers take over.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// FatalError logs an unrecoverable startup error and exits.
func FatalError(msg string, err error, attrs ...slog.Attr) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:]) // Discard wrapper frames (Callers, FatalError).

	r := slog.NewRecord(time.Now(), slog.LevelError, msg, pcs[0])
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.AddAttrs(attrs...)

	_ = slog.Default().Handler().Handle(context.Background(), r)
	os.Exit(1)
}
