package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	levelOnce    sync.Once
)

// ParseLevel converts a level name into a LogLevel. Unknown names map to
// LevelInfo and ok is false.
func ParseLevel(name string) (level LogLevel, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				currentLevel = LevelDebug
				return
			}
		}

		currentLevel, _ = ParseLevel(os.Getenv("LOG_LEVEL"))
	})
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	if GetLevel() <= LevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	if GetLevel() <= LevelInfo {
		log.Printf("[INFO] "+format, args...)
	}
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	if GetLevel() <= LevelWarn {
		log.Printf("[WARN] "+format, args...)
	}
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	if GetLevel() <= LevelError {
		log.Printf("[ERROR] "+format, args...)
	}
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Logf logs at the given level.
func Logf(level LogLevel, format string, args ...interface{}) {
	switch level {
	case LevelDebug:
		Debug(format, args...)
	case LevelWarn:
		Warn(format, args...)
	case LevelError:
		Error(format, args...)
	default:
		Info(format, args...)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// LineWriter is an io.Writer that logs every complete line written to it.
// Partial lines are held until a newline (or carriage return, which ffmpeg
// uses for progress updates) arrives or Close is called. The most recent
// lines are kept in a ring so callers can attach them to error messages.
type LineWriter struct {
	mu      sync.Mutex
	level   LogLevel
	prefix  string
	enabled bool
	buf     bytes.Buffer
	tail    []string
	keep    int
}

// NewLineWriter returns a LineWriter that logs at level with the given
// prefix. When enabled is false lines are only retained in the tail, never
// logged. keep bounds how many trailing lines are retained.
func NewLineWriter(level LogLevel, prefix string, enabled bool, keep int) *LineWriter {
	if keep < 0 {
		keep = 0
	}
	return &LineWriter{level: level, prefix: prefix, enabled: enabled, keep: keep}
}

var _ io.WriteCloser = (*LineWriter)(nil)

// Write implements io.Writer
func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)
	for {
		data := lw.buf.Bytes()
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		lw.buf.Next(idx + 1)
		lw.emit(line)
	}
	return len(p), nil
}

// Close flushes any buffered partial line.
func (lw *LineWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.buf.Len() > 0 {
		lw.emit(lw.buf.String())
		lw.buf.Reset()
	}
	return nil
}

// Tail returns the retained trailing lines, oldest first.
func (lw *LineWriter) Tail() []string {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	out := make([]string, len(lw.tail))
	copy(out, lw.tail)
	return out
}

func (lw *LineWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if lw.keep > 0 {
		if len(lw.tail) == lw.keep {
			lw.tail = lw.tail[1:]
		}
		lw.tail = append(lw.tail, line)
	}
	if lw.enabled {
		Logf(lw.level, "%s%s", lw.prefix, line)
	}
}
