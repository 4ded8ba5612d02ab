package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/MrWong99/radiogate/internal/config"
)

// newLogger builds the process logger. Its level follows lv so hot reload
// can change it. The auto format writes text to terminals and JSON
// elsewhere.
func newLogger(w io.Writer, lv *slog.LevelVar, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	if resolveFormat(w, format) == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveFormat replaces auto with the concrete format for w.
func resolveFormat(w io.Writer, format config.LogFormat) config.LogFormat {
	if format != config.LogFormatAuto && format != "" {
		return format
	}
	if isTerminal(w) {
		return config.LogFormatText
	}
	return config.LogFormatJSON
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
