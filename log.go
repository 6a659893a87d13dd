package main

import (
	"io"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/exp/slog"
)

// newLogger returns a colored logger writing to w, or stderr if w is nil.
// Debug messages are only shown when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
	}))
}
