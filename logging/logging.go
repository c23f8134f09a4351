// Package logging configures the default slog logger that the rest of the module logs through.
package logging

import (
	"io"
	"log/slog"

	"hermannm.dev/devlog"
)

// Setup replaces the default logger. In production, logs are written as JSON for log collectors.
// Otherwise, they are formatted for reading in a terminal.
func Setup(output io.Writer, level slog.Level, isProduction bool) {
	slog.SetDefault(slog.New(NewHandler(output, level, isProduction)))
}

func NewHandler(output io.Writer, level slog.Level, isProduction bool) slog.Handler {
	if isProduction {
		return slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level, AddSource: true})
	}
	return devlog.NewHandler(output, &devlog.Options{Level: level})
}
