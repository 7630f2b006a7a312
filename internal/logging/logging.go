// Package logging builds the component loggers. Output goes to stderr or
// to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log destination.
type Config struct {
	// File is the log file path. Empty means stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Quiet discards all output.
	Quiet bool
	// Stderr replaces os.Stderr as the default destination.
	Stderr io.Writer
}

// Output is a log destination shared by several loggers.
type Output struct {
	w      io.Writer
	closer io.Closer
}

// Open returns the destination described by cfg. Close it when done.
func Open(cfg Config) *Output {
	switch {
	case cfg.Quiet:
		return &Output{w: io.Discard}
	case cfg.File != "":
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		return &Output{w: lj, closer: lj}
	case cfg.Stderr != nil:
		return &Output{w: cfg.Stderr}
	default:
		return &Output{w: os.Stderr}
	}
}

// Logger returns a logger writing to the output with a "[component] "
// prefix.
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Close releases the log file, if any.
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}
