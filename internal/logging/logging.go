// Package logging constructs the charmbracelet loggers used across imgbuild.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// DefaultLevel is used when no --log-level is given.
const DefaultLevel = "info"

// ParseLevel accepts debug, info, warn/warning, error and fatal.
func ParseLevel(raw string) (log.Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		name = "warn"
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warning, error)", raw)
	}
	return level, nil
}

// New returns a timestamped logger writing to w.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "imgbuild",
	})
}

// Component derives a logger tagged with the component name.
func Component(logger *log.Logger, name string) *log.Logger {
	if logger == nil {
		logger = log.Default()
	}
	return logger.With("component", name)
}
