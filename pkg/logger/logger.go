// Package logger provides the structured logger used across the service.
// It is a thin wrapper around logrus so call sites can carry contextual
// fields without depending on the logging backend directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, format and destination of the logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger wraps a logrus entry. The embedded entry exposes the usual
// Info/Warn/Error family plus WithField/WithError chaining.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Invalid values fall back to the
// defaults (info level, text format, stdout) rather than failing startup.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		base.SetOutput(os.Stdout)
	case "stderr":
		base.SetOutput(os.Stderr)
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "service"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("2006-01-02"))
		if f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			base.SetOutput(f)
		} else {
			base.SetOutput(os.Stdout)
			base.WithError(err).Warn("log file unavailable; falling back to stdout")
		}
	default:
		base.SetOutput(os.Stdout)
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with a component name.
// Services use it as the fallback when no logger is injected.
func NewDefault(component string) *Logger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetOutput(os.Stdout)
	return &Logger{Entry: base.WithField("component", component)}
}

// SetOutput redirects all output of the underlying logger.
func (l *Logger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}

// SetLevel changes the minimum level of the underlying logger.
func (l *Logger) SetLevel(level logrus.Level) {
	l.Entry.Logger.SetLevel(level)
}
