package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogFileName is the name of the append-only log file inside the log directory.
const LogFileName = "service.log"

// Logger provides leveled, component-scoped logging for dencho.
// All loggers created with NewLogger append to the same file,
// <log dir>/service.log, one line per entry.
//
// All log methods (Debugf, Infof, Warnf, Errorf) write unconditionally.
// There is no log level filtering.
type Logger struct {
	component string
	requestID string
	file      *os.File
	logger    *log.Logger
	mu        *sync.Mutex
	logPath   string
	closeOnce *sync.Once
	owned     bool
}

var (
	// logDir is the directory where the log file is stored
	logDir   string
	logDirMu sync.RWMutex
)

// Init sets the directory used by NewLogger and creates it if needed.
// Later calls only affect loggers created afterwards.
func Init(dir string) error {
	if dir == "" {
		return fmt.Errorf("log directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logDirMu.Lock()
	logDir = dir
	logDirMu.Unlock()
	return nil
}

// GetLogDirectory returns the directory where logs are stored.
func GetLogDirectory() (string, error) {
	logDirMu.RLock()
	defer logDirMu.RUnlock()
	if logDir == "" {
		return "", fmt.Errorf("logging not initialized: call logging.Init first")
	}
	return logDir, nil
}

// NewLogger creates a new logger for a specific component.
// The logger appends to <log dir>/service.log.
//
// If logging has not been initialized or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
// Callers can check the error to detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	dir, err := GetLogDirectory()
	if err != nil {
		return newFallbackLogger(component, err), err
	}

	logPath := filepath.Join(dir, LogFileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		component: component,
		file:      file,
		logger:    log.New(file, "", 0), // timestamps are formatted by formatLogEntry
		mu:        &sync.Mutex{},
		logPath:   logPath,
		closeOnce: &sync.Once{},
		owned:     true,
	}, nil
}

// NewWriterLogger creates a logger that writes to w instead of the log file.
// Close does not close w.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(w, "", 0),
		mu:        &sync.Mutex{},
		closeOnce: &sync.Once{},
	}
}

// Discard returns a logger that drops every entry.
func Discard() *Logger {
	return NewWriterLogger("discard", io.Discard)
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	l := NewWriterLogger(component, os.Stderr)
	l.Warnf("failed to initialize file logging: %v", err)
	l.Warnf("falling back to stderr logging")
	return l
}

// WithRequest returns a logger that tags every entry with the given request ID.
// The returned logger shares the underlying writer; closing it is a no-op.
func (l *Logger) WithRequest(requestID string) *Logger {
	derived := l.derive(l.component)
	derived.requestID = requestID
	return derived
}

// Component returns a logger for another component sharing the same writer.
// Closing it is a no-op.
func (l *Logger) Component(component string) *Logger {
	return l.derive(component)
}

func (l *Logger) derive(component string) *Logger {
	return &Logger{
		component: component,
		requestID: l.requestID,
		logger:    l.logger,
		mu:        l.mu,
		logPath:   l.logPath,
		closeOnce: &sync.Once{},
	}
}

// formatLogEntry creates a log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	if l.requestID != "" {
		return fmt.Sprintf("[%s] [%s] [%s] [req=%s] %s", timestamp, l.component, level, l.requestID, message)
	}
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(format, v...)
	l.logger.Println(l.formatLogEntry(level, message))
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Writer returns an io.Writer that writes to this logger's destination
func (l *Logger) Writer() io.Writer {
	return l.logger.Writer()
}

// LogPath returns the path to the log file, or "" for writer-backed loggers.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file if this logger opened it. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.owned && l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
