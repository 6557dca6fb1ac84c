// Package logging configures the process-wide logrus logger with a
// lumberjack-backed rotating file sink for every subsystem's
// log.Debugf/Warnf calls.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool
}

// Init configures logrus's standard logger to write JSON records to
// stderr and, when FilePath is set, a rotating file, at the requested
// level. Debug always wins
// over a configured Level string, forcing verbose output regardless of
// the config file.
func Init(opts Options) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	if opts.Debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	var writers []io.Writer
	writers = append(writers, os.Stderr)
	if opts.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   true,
		})
	}
	log.SetOutput(io.MultiWriter(writers...))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
