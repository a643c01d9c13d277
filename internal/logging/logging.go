// Package logging provides a thin, category-tagged wrapper around zap.
// All logging in this module goes through here rather than touching zap
// directly, so log shape stays consistent across components.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Category constants for consistent logging categories, one per component
// in the capture/mix/transcribe pipeline.
const (
	CategoryApp        = "App"
	CategorySession    = "Session"
	CategorySource     = "Source"
	CategoryAlign      = "Align"
	CategoryMixer      = "Mixer"
	CategoryLimiter    = "Limiter"
	CategoryEncoder    = "Encoder"
	CategoryTranscribe = "Transcribe"
	CategoryMerge      = "Merge"
)

var base *zap.Logger = zap.NewNop()

// Init initializes logging with a production zap configuration.
func Init() {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than failing startup over logging.
		base = zap.NewNop()
		return
	}
	base = l
}

// Shutdown flushes any buffered log entries.
func Shutdown(_ context.Context) {
	_ = base.Sync()
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	base.Debug(format(category, msg, params...))
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	base.Info(format(category, msg, params...))
}

// Success logs a success message at info level.
func Success(category, msg string, params ...interface{}) {
	base.Info(format(category, "OK "+msg, params...))
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	base.Warn(format(category, msg, params...))
}

// Fail logs a failure message at error level.
func Fail(category, msg string, params ...interface{}) {
	base.Error(format(category, msg, params...))
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	base.Error(format(category, msg, params...))
}

// Catastrophe logs an unrecoverable condition.
func Catastrophe(category, msg string, params ...interface{}) {
	base.Error(format("FATAL/"+category, msg, params...))
}

func format(category, msg string, params ...interface{}) string {
	if len(params) > 0 {
		msg = fmt.Sprintf(msg, params...)
	}
	return "[" + category + "] " + msg
}
