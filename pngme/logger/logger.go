package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LogLevelSilent disables all logging
	LogLevelSilent LogLevel = iota
	// LogLevelError shows only errors
	LogLevelError
	// LogLevelWarn shows warnings and errors
	LogLevelWarn
	// LogLevelInfo shows info, warnings, and errors (verbose mode)
	LogLevelInfo
	// LogLevelDebug shows all logs including debug information
	LogLevelDebug
)

var levelNames = [...]string{"SILENT", "ERROR", "WARN", "INFO", "DEBUG"}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel accepts a level name in any case, e.g. "debug" or "WARN".
func ParseLogLevel(s string) (LogLevel, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range levelNames {
		if name == want {
			return LogLevel(i), nil
		}
	}
	return LogLevelError, fmt.Errorf("unknown log level %q", s)
}

// Logger writes timestamped lines at or below its level. Lines from
// concurrent callers are never interleaved.
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
}

var std = &Logger{
	level:  LogLevelError,
	output: os.Stderr,
}

func SetLogLevel(level LogLevel) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
}

func GetLogLevel() LogLevel {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// SetOutput redirects the global logger, mostly for tests
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.output = w
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	fmt.Fprintf(l.output, "[%s] %s: %s\n",
		time.Now().Format("15:04:05.000"), level, fmt.Sprintf(format, args...))
}

func Debug(format string, args ...interface{}) {
	std.logf(LogLevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	std.logf(LogLevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	std.logf(LogLevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	std.logf(LogLevelError, format, args...)
}
