// Package logging builds the zerolog logger shared by the CLI and the
// adapter.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Build collects logger settings. Call Make to obtain the logger.
type Build struct {
	writer io.Writer
	path   string
	level  string
	format string
}

// Log is a configured logger and the file it writes to, if any.
type Log struct {
	Logger zerolog.Logger
	file   *os.File
}

// New starts a logger build writing JSON to stderr at info level.
func New() *Build {
	return &Build{writer: os.Stderr, level: "info", format: FormatJSON}
}

// FromPath appends log lines to the file at path.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter writes log lines to w.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level sets the minimum level by name (trace, debug, info, warn, error,
// disabled).
func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Format selects FormatJSON or FormatConsole.
func (b *Build) Format(format string) *Build {
	b.format = format
	return b
}

// Make opens the destination and returns the logger.
func (b *Build) Make() (*Log, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(b.level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", b.level, err)
	}
	if b.level == "" {
		level = zerolog.InfoLevel
	}

	l := &Log{}
	w := b.writer
	if b.path != "" {
		l.file, err = os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = zerolog.SyncWriter(l.file)
	}

	switch b.format {
	case "", FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: b.path != ""}
	default:
		l.Close()
		return nil, fmt.Errorf("unknown log format %q", b.format)
	}

	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close closes the log file, if one was opened.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
