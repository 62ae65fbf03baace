// Package jmlog builds the base zerolog logger shared by every
// component of a messaging instance, matching the teacher's pattern of
// one zerolog.Logger per struct plus context-scoped child loggers.
package jmlog

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the base logger.
type Options struct {
	// Level is the minimum level to log. Defaults to info.
	Level zerolog.Level
	// Pretty writes human-readable console output instead of JSON.
	Pretty bool
	// File, if set, rotates log output through lumberjack instead of
	// (or in addition to) stderr.
	File *lumberjack.Logger
}

// New builds a base logger for component with the given instance id
// attached as a field on every event it produces.
func New(instanceID, component string, opts Options) zerolog.Logger {
	var w io.Writer = os.Stderr
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if opts.File != nil {
		if opts.Pretty {
			w = io.MultiWriter(w, opts.File)
		} else {
			w = opts.File
		}
	}
	level := opts.Level
	if level == 0 {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("instance", instanceID).
		Str("component", component).
		Logger()
}

// FromContext returns the logger embedded in ctx via zerolog.Ctx, or
// fallback if ctx carries none (mirrors the teacher's
// loggerFromContext helper in pkg/connector/logger_util.go).
func FromContext(ctx context.Context, fallback *zerolog.Logger) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return fallback
}
