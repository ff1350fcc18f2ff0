// Package logging builds the charmbracelet/log logger shared by the CLI and
// the HTTP server.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

type Options struct {
	Level     string
	Format    string
	Timestamp bool
	Prefix    string
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseFormatter maps a config string to a formatter, defaulting to text.
func ParseFormatter(s string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// New writes to w, or stderr when w is nil, so command output on stdout
// stays machine readable.
func New(w io.Writer, opts Options) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(opts.Level),
		Formatter:       ParseFormatter(opts.Format),
		ReportTimestamp: opts.Timestamp,
		Prefix:          opts.Prefix,
	})
}

// Discard is a logger for tests and embedded use.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}
