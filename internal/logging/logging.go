package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Options selects where log lines go.
type Options struct {
	Level string
	// File receives a copy of every line when set. It is written as JSON
	// when the terminal is quiet and as logfmt otherwise.
	File string
	// Quiet drops terminal output, for example while the progress view owns
	// the screen.
	Quiet bool
	// Terminal defaults to stderr.
	Terminal io.Writer
}

// Logger wraps a charmbracelet logger together with the file it may own.
type Logger struct {
	*log.Logger
	file *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New builds a logger from opts.
func New(opts Options) (*Logger, error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
	}

	term := opts.Terminal
	if term == nil {
		term = os.Stderr
	}
	if opts.Quiet {
		term = io.Discard
	}

	if opts.File == "" {
		l := log.NewWithOptions(term, log.Options{Level: level, ReportTimestamp: true, TimeFormat: time.Kitchen})
		return &Logger{Logger: l}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := log.NewWithOptions(io.MultiWriter(term, f), log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatterFor(term),
	})
	return &Logger{Logger: l, file: f}, nil
}

func formatterFor(term io.Writer) log.Formatter {
	if term == io.Discard {
		return log.JSONFormatter
	}
	return log.LogfmtFormatter
}
