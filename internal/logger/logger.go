// Package logger provides leveled logging with per-component prefixes.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides leveled logging scoped to a named component.
type Logger struct {
	name   string
	level  Level
	logger *log.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	var l Level
	switch strings.ToLower(level) {
	case "debug":
		l = DebugLevel
	case "info":
		l = InfoLevel
	case "warn":
		l = WarnLevel
	case "error":
		l = ErrorLevel
	default:
		l = InfoLevel
	}

	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}

	defaultLogger = &Logger{
		level:  l,
		logger: log.New(os.Stderr, "", flags),
	}
}

// Named returns a logger that prefixes every message with the component name.
// Safe to call before Init; such loggers stay silent until Init runs.
func Named(name string) *Logger {
	return &Logger{name: name}
}

func (l *Logger) emit(level Level, tag, format string, args ...interface{}) {
	d := defaultLogger
	if d == nil || d.level > level {
		return
	}
	prefix := tag
	if l.name != "" {
		prefix = tag + " [" + l.name + "]"
	}
	_ = d.logger.Output(3, fmt.Sprintf(prefix+" "+format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(DebugLevel, "[DEBUG]", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(InfoLevel, "[INFO]", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(WarnLevel, "[WARN]", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(ErrorLevel, "[ERROR]", format, args...)
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= DebugLevel {
		_ = defaultLogger.logger.Output(2, fmt.Sprintf("[DEBUG] "+format, args...))
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= InfoLevel {
		_ = defaultLogger.logger.Output(2, fmt.Sprintf("[INFO] "+format, args...))
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= WarnLevel {
		_ = defaultLogger.logger.Output(2, fmt.Sprintf("[WARN] "+format, args...))
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.level <= ErrorLevel {
		_ = defaultLogger.logger.Output(2, fmt.Sprintf("[ERROR] "+format, args...))
	}
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	if defaultLogger != nil {
		_ = defaultLogger.logger.Output(2, msg)
	}
	os.Exit(1)
}
