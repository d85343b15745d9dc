package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFileLogger writes to stdout and to a size-rotated file at path. An empty path logs to stdout only.
func NewFileLogger(level, path string) zerolog.Logger {
	if path == "" {
		return NewLogger(level)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log := NewLogger(level)
		log.Warn().Err(err).Str("path", path).Msg("log directory unavailable, logging to stdout only")
		return log
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return newLogger(io.MultiWriter(os.Stdout, file), level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
