// Package logger provides the leveled logger used by the replication engine.
// It wraps the standard `log` package, filters messages by level and prefixes
// every line with its level tag so that process logs stay greppable.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LogLevel is a type representing the logging level.
type LogLevel int32

const (
	// LevelDebug is used for per-entity tracing of pipeline decisions.
	LevelDebug LogLevel = iota
	// LevelInfo is used for tick and run lifecycle messages.
	LevelInfo
	// LevelWarn is used for recoverable problems (retried faults, skipped entities).
	LevelWarn
	// LevelError is used for failed entities, failed runs and abandoned ticks.
	LevelError
	// LevelFatal is used for errors that terminate the process.
	LevelFatal
)

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

// logLevel is read from every worker goroutine of a tick, so it is stored atomically.
var logLevel atomic.Int32

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

func init() {
	logLevel.Store(int32(LevelInfo))
}

// ParseLevel converts a level name into a LogLevel.
// The second return value is false when the name is not recognised.
func ParseLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL", "SILENT":
		return LevelFatal, true
	}
	return LevelInfo, false
}

// SetLogLevel sets the global log level.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An unknown value falls back to INFO and prints a warning.
func SetLogLevel(level string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		std.Printf("[WARN] Unknown log level '%s' specified. Defaulting to INFO level.", level)
	}
	logLevel.Store(int32(lvl))
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	return LogLevel(logLevel.Load())
}

// SetOutput redirects log output. Mostly useful in tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return LogLevel(logLevel.Load()) <= l
}

func output(l LogLevel, prefix, format string, v ...interface{}) {
	if !enabled(l) {
		return
	}
	_ = std.Output(3, "["+l.String()+"] "+prefix+fmt.Sprintf(format, v...))
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) { output(LevelDebug, "", format, v...) }

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) { output(LevelInfo, "", format, v...) }

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) { output(LevelWarn, "", format, v...) }

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) { output(LevelError, "", format, v...) }

// Fatalf outputs a FATAL level log message and terminates the process with os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	_ = std.Output(2, "[FATAL] "+fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Entry is a logger bound to a fixed set of key=value fields.
// Pipelines use it to tag every line with the run id and entity name.
type Entry struct {
	prefix string
}

// WithFields returns an Entry whose messages are prefixed with the given fields,
// rendered in key order.
func WithFields(fields map[string]interface{}) Entry {
	if len(fields) == 0 {
		return Entry{}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v ", k, fields[k])
	}
	return Entry{prefix: b.String()}
}

// With returns a copy of the entry with one more field appended.
func (e Entry) With(key string, value interface{}) Entry {
	return Entry{prefix: e.prefix + fmt.Sprintf("%s=%v ", key, value)}
}

// Debugf outputs a DEBUG level message with the entry's fields.
func (e Entry) Debugf(format string, v ...interface{}) { output(LevelDebug, e.prefix, format, v...) }

// Infof outputs an INFO level message with the entry's fields.
func (e Entry) Infof(format string, v ...interface{}) { output(LevelInfo, e.prefix, format, v...) }

// Warnf outputs a WARN level message with the entry's fields.
func (e Entry) Warnf(format string, v ...interface{}) { output(LevelWarn, e.prefix, format, v...) }

// Errorf outputs an ERROR level message with the entry's fields.
func (e Entry) Errorf(format string, v ...interface{}) { output(LevelError, e.prefix, format, v...) }
