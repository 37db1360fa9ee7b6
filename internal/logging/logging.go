// Package logging provides structured, per-subsystem logging for
// engine-side code (the executor, scheduler and dev-run CLI do not import
// it), grounded on the
// teacher's pkg/logger wrapper around logrus. The harness, running inside
// the sandboxed subprocess, does not use this package; its only
// legitimate stdout channel is the NDJSON event stream (see
// cmd/glubean-harness/stderrlog.go for its stderr-only logger).
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls a Logger's level, format and destination.
type Config struct {
	Level  string `yaml:"level" env:"GLUBEAN_LOG_LEVEL"`
	Format string `yaml:"format" env:"GLUBEAN_LOG_FORMAT"`
	Output string `yaml:"output" env:"GLUBEAN_LOG_OUTPUT"`
}

// DefaultConfig returns the engine's baseline logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stderr"}
}

// Logger wraps *logrus.Entry, pinned to a "subsystem" field, so call sites
// can share a single construction path (New/NewDefault) without importing
// logrus directly everywhere and every line it emits is attributable.
type Logger struct {
	*logrus.Entry
}

// New builds a Logger for one named subsystem ("executor", "scheduler", ...).
func New(name string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	}
	l.SetOutput(out)

	return &Logger{Entry: l.WithField("subsystem", name)}
}

// NewDefault builds a Logger for name using DefaultConfig.
func NewDefault(name string) *Logger {
	return New(name, DefaultConfig())
}
