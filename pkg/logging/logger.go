// Package logging provides the component loggers used across postforge.
//
// Process logs are written to ~/.postforge/logs/<run-id>-postforge.log so that
// operators can diagnose selector drift after a run without the console being
// flooded. Console progress for the CLI is handled by Console.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes component-tagged log entries to a shared sink.
//
// All log methods write unconditionally; verbosity filtering is a console
// concern, the log file always receives everything.
type Logger struct {
	runID     string
	component string
	sink      *sink
}

// sink is shared between a logger and every logger derived from it with
// WithComponent, so that a single file is opened and closed once.
type sink struct {
	mu        sync.Mutex
	logger    *log.Logger
	file      *os.File
	path      string
	closeOnce sync.Once
}

var (
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".postforge", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a file logger for component at
// ~/.postforge/logs/<run-id>-postforge.log.
//
// If the log directory or file cannot be opened, a logger writing to stderr
// is returned together with the error, so callers can warn and continue.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-postforge.log", id))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		runID:     id,
		component: component,
		sink: &sink{
			logger: log.New(file, "", 0),
			file:   file,
			path:   logPath,
		},
	}, nil
}

// NewWriterLogger creates a logger that writes to w. It is used by tests and
// by callers that want log output on an existing stream.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		sink:      &sink{logger: log.New(w, "", 0)},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger("discard", io.Discard)
}

func newFallbackLogger(component string, err error) *Logger {
	l := NewWriterLogger(component, os.Stderr)
	l.Warnf("failed to initialize file logging: %v", err)
	l.Warnf("falling back to stderr logging")
	return l
}

// WithComponent returns a logger tagged with component that shares l's sink.
func (l *Logger) WithComponent(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{runID: l.runID, component: component, sink: l.sink}
}

func (l *Logger) write(level, format string, v ...interface{}) {
	if l == nil || l.sink == nil {
		return
	}

	message := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Component returns the component tag.
func (l *Logger) Component() string {
	return l.component
}

// RunID returns the process-wide run identifier.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the log file path, or "" for writer-backed loggers.
func (l *Logger) LogPath() string {
	if l.sink == nil {
		return ""
	}
	return l.sink.path
}

// Close closes the underlying log file. Safe to call multiple times and on
// derived loggers.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	var err error
	l.sink.closeOnce.Do(func() {
		if l.sink.file != nil {
			err = l.sink.file.Close()
		}
	})
	return err
}

// RunID returns the process-wide run identifier.
func RunID() string {
	return getRunID()
}
