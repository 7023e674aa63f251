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

// Level controls which entries a Logger writes.
type Level int

const (
	// LevelQuiet writes only warnings and errors
	LevelQuiet Level = iota
	// LevelNormal adds info entries (default)
	LevelNormal
	// LevelVerbose is reserved for request-level detail and currently equals normal
	LevelVerbose
	// LevelDebug writes everything
	LevelDebug
)

// ParseLevel maps a verbosity name to a Level.
func ParseLevel(verbosity string) (Level, error) {
	switch verbosity {
	case "quiet":
		return LevelQuiet, nil
	case "", "normal":
		return LevelNormal, nil
	case "verbose":
		return LevelVerbose, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelNormal, fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", verbosity)
}

// Logger provides component-tagged logging for pageproof.
// Entries go to <dir>/<run-id>-pageproof.log when a log directory is
// configured, stderr otherwise.
type Logger struct {
	runID     string
	component string
	file      *os.File
	logger    *log.Logger
	level     Level
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	// Global run ID for this process
	runID     string
	runIDOnce sync.Once

	// logDir is the directory where log files are stored (empty: stderr)
	logDir string

	// defaultLevel applies to loggers created after Configure
	defaultLevel = LevelNormal

	configMu sync.Mutex
)

// getRunID returns or creates the run ID for this process
func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// Configure sets the log directory and verbosity for loggers created
// afterwards. An empty dir logs to stderr.
func Configure(dir string, level Level) error {
	configMu.Lock()
	defer configMu.Unlock()

	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	logDir = dir
	defaultLevel = level
	return nil
}

// NewLogger creates a logger for a specific component.
//
// If the log file cannot be opened it returns a logger writing to stderr
// along with the error, so callers can warn and carry on.
func NewLogger(component string) (*Logger, error) {
	configMu.Lock()
	dir, level := logDir, defaultLevel
	configMu.Unlock()

	if dir == "" {
		return NewWithWriter(component, os.Stderr, level), nil
	}

	id := getRunID()
	logPath := filepath.Join(dir, fmt.Sprintf("%s-pageproof.log", id))

	// Append mode: every component shares the run's file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fallback := NewWithWriter(component, os.Stderr, level)
		fallback.Warnf("failed to open log file, falling back to stderr: %v", err)
		return fallback, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0), // We format timestamps ourselves
		level:     level,
		logPath:   logPath,
	}, nil
}

// NewWithWriter creates a logger that writes to w.
func NewWithWriter(component string, w io.Writer, level Level) *Logger {
	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    log.New(w, "", 0),
		level:     level,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewWithWriter("discard", io.Discard, LevelQuiet)
}

// With returns a logger for a sub-component sharing the same destination.
// A nil logger stays nil and logs nothing.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		runID:     l.runID,
		component: component,
		logger:    l.logger,
		level:     l.level,
		logPath:   l.logPath,
	}
}

// formatLogEntry creates a log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(min Level, level, format string, v ...interface{}) {
	if l == nil || l.level < min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	message := fmt.Sprintf(format, v...)
	l.logger.Println(l.formatLogEntry(level, message))
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelNormal, "INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelQuiet, "WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelQuiet, "ERROR", format, v...)
}

// RunID returns the process run ID
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file (empty when not file-backed)
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
