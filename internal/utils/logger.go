// internal/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// ParseLogLevel maps a LOG_LEVEL value to a level; unknown values fall back to INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Logger writes one line per entry: level, time, caller, message, then sorted key=value fields
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	out     io.Writer
	level   LogLevel
	enabled bool
	fields  map[string]interface{}
	parent  *Logger
	exit    func(int)
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = NewLogger(os.Stdout, INFO)
	})
	return globalLogger
}

// NewLogger builds a standalone logger; tests pass a buffer as out
func NewLogger(out io.Writer, level LogLevel) *Logger {
	return &Logger{
		out:     out,
		level:   level,
		enabled: true,
		exit:    os.Exit,
	}
}

// InitLogger points the global logger at LOG_DIR/<name>.log in addition to stdout
func InitLogger(logDir, name string, level LogLevel) error {
	logger := GetLogger()

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, name+".log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file != nil {
		logger.file.Close()
	}
	logger.file = file
	logger.level = level
	return nil
}

// CloseLogger releases the log file of the global logger
func CloseLogger() {
	logger := GetLogger()
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.file != nil {
		logger.file.Close()
		logger.file = nil
	}
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.level = level
}

// Enable enables or disables logging
func (l *Logger) Enable(enabled bool) {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.enabled = enabled
}

// With returns a logger that adds fields to every entry. It shares output with l.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{fields: merged, parent: l.root()}
}

func (l *Logger) root() *Logger {
	if l.parent != nil {
		return l.parent
	}
	return l
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	root := l.root()

	root.mu.Lock()
	defer root.mu.Unlock()

	if !root.enabled || level < root.level {
		return
	}

	// skip log and the exported wrapper
	file, line, funcName := "", 0, ""
	if pc, f, ln, ok := runtime.Caller(2); ok {
		file, line = f, ln
		if fn := runtime.FuncForPC(pc); fn != nil {
			funcName = fn.Name()
			if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
				funcName = funcName[idx+1:]
			}
		}
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s:%d:%s - %s",
		levelToString(level),
		time.Now().Format("2006-01-02 15:04:05.000"),
		file, line, funcName, message)

	all := l.fields
	if len(fields) > 0 {
		all = make(map[string]interface{}, len(l.fields)+len(fields))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields {
			all[k] = v
		}
	}
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, all[k])
		}
	}
	b.WriteByte('\n')
	line2 := b.String()

	if root.file != nil {
		root.file.WriteString(line2)
	}
	if root.out != nil {
		io.WriteString(root.out, line2)
	}

	if level == FATAL && root.exit != nil {
		root.exit(1)
	}
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(INFO, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WARNING, message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.log(FATAL, message, fields)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARNING, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}
