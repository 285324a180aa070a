// Package logging builds the logrus logger shared by the engine, server and CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"groupsync/internal/config"
)

// New creates a logger writing to stderr from the log section of cfg.
func New(cfg *config.Config) *logrus.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg *config.Config, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	level, format := "info", "text"
	if cfg != nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	logger.SetLevel(parseLevel(level))
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
