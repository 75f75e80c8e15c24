// Structured logging for the plotdrive host
//
// Provides a small leveled logging system with support for:
// - Log levels (DEBUG, INFO, WARN, ERROR)
// - Structured fields (key-value pairs)
// - Text and JSON output formats
// - ANSI colors for terminal output
// - Per-component loggers with prefixes
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota

	// INFO level for general informational messages
	INFO

	// WARN level for warning messages
	WARN

	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a LogLevel
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	// FormatText outputs human-readable text format
	FormatText OutputFormat = iota
	// FormatJSON outputs machine-readable JSON format
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// Logger writes leveled log messages for one component
type Logger struct {
	mu         sync.Mutex
	prefix     string
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	outFormat  OutputFormat
	fields     Fields // Persistent fields attached to this logger
}

// Entry represents a single log entry with fields
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultLogger *Logger
	children      []*Logger
	defaultMu     sync.Mutex

	// ANSI color codes for terminal output
	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m", // Cyan
		INFO:  "\x1b[32m", // Green
		WARN:  "\x1b[33m", // Yellow
		ERROR: "\x1b[31m", // Red
	}
	ansiReset = "\x1b[0m"
)

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	return &Logger{
		prefix:     prefix,
		writer:     os.Stderr,
		level:      INFO,
		timeFormat: "15:04:05.000",
		outFormat:  FormatText,
	}
}

// SetLevel sets the minimum level this logger emits
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current minimum level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetWriter redirects log output
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetColorize enables or disables ANSI colors
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.colorize = enable
}

// SetFormat selects text or JSON output
func (l *Logger) SetFormat(format OutputFormat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outFormat = format
}

// WithPrefix returns a child logger sharing settings but with a new prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:     prefix,
		writer:     l.writer,
		level:      l.level,
		timeFormat: l.timeFormat,
		colorize:   l.colorize,
		outFormat:  l.outFormat,
		fields:     l.fields,
	}
}

// WithField returns an Entry with one field attached
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields attached
func (l *Logger) WithFields(fields Fields) *Entry {
	f := make(Fields, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &Entry{logger: l, fields: f}
}

// WithError returns an Entry with the error attached as a field
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err)
}

func (l *Logger) formatText(level LogLevel, msg string, fields Fields) string {
	var sb strings.Builder
	sb.WriteString(time.Now().Format(l.timeFormat))
	sb.WriteByte(' ')
	if l.colorize {
		sb.WriteString(ansiColors[level])
	}
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	if l.colorize {
		sb.WriteString(ansiReset)
	}
	if l.prefix != "" {
		sb.WriteString(" [")
		sb.WriteString(l.prefix)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

type jsonLogEntry struct {
	Time      string                 `json:"time"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) formatJSON(level LogLevel, msg string, fields Fields) string {
	entry := jsonLogEntry{
		Time:      time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.prefix,
		Message:   msg,
		Fields:    fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","msg":"log marshal failed: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func (l *Logger) log(level LogLevel, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	merged := fields
	if len(l.fields) > 0 {
		merged = make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}
	var out string
	if l.outFormat == FormatJSON {
		out = l.formatJSON(level, msg, merged)
	} else {
		out = l.formatText(level, msg, merged)
	}
	fmt.Fprint(l.writer, out)
}

// Debug logs at DEBUG level with Printf-style formatting
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, sprintf(format, args), nil)
}

// Info logs at INFO level with Printf-style formatting
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, sprintf(format, args), nil)
}

// Warn logs at WARN level with Printf-style formatting
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, sprintf(format, args), nil)
}

// Error logs at ERROR level with Printf-style formatting
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, sprintf(format, args), nil)
}

func sprintf(format string, args []interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	e.fields[key] = value
	return e
}

// WithFields adds several fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// WithError attaches an error as a field
func (e *Entry) WithError(err error) *Entry {
	e.fields["error"] = err
	return e
}

// Debug emits the entry at DEBUG level
func (e *Entry) Debug(msg string) { e.logger.log(DEBUG, msg, e.fields) }

// Info emits the entry at INFO level
func (e *Entry) Info(msg string) { e.logger.log(INFO, msg, e.fields) }

// Warn emits the entry at WARN level
func (e *Entry) Warn(msg string) { e.logger.log(WARN, msg, e.fields) }

// Error emits the entry at ERROR level
func (e *Entry) Error(msg string) { e.logger.log(ERROR, msg, e.fields) }

// Debugf emits a formatted entry at DEBUG level
func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.log(DEBUG, sprintf(format, args), e.fields)
}

// Infof emits a formatted entry at INFO level
func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.log(INFO, sprintf(format, args), e.fields)
}

// Warnf emits a formatted entry at WARN level
func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.log(WARN, sprintf(format, args), e.fields)
}

// Errorf emits a formatted entry at ERROR level
func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.log(ERROR, sprintf(format, args), e.fields)
}

// SetDefaultLogger replaces the package default logger
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the package default logger
func GetDefaultLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("")
	}
	return defaultLogger
}

// GetLogger returns a child of the default logger with the given
// prefix. Children are tracked so Configure can retune loggers that
// packages created at init time.
func GetLogger(prefix string) *Logger {
	child := GetDefaultLogger().WithPrefix(prefix)
	defaultMu.Lock()
	children = append(children, child)
	defaultMu.Unlock()
	return child
}

// Configure applies a level and an optional writer to the default
// logger and to every logger previously handed out by GetLogger.
func Configure(level LogLevel, w io.Writer) {
	defaultMu.Lock()
	loggers := append([]*Logger{defaultLogger}, children...)
	defaultMu.Unlock()
	for _, l := range loggers {
		if l == nil {
			continue
		}
		l.SetLevel(level)
		if w != nil {
			l.SetWriter(w)
		}
	}
}

// Debug logs to the default logger
func Debug(format string, args ...interface{}) { GetDefaultLogger().Debug(format, args...) }

// Info logs to the default logger
func Info(format string, args ...interface{}) { GetDefaultLogger().Info(format, args...) }

// Warn logs to the default logger
func Warn(format string, args ...interface{}) { GetDefaultLogger().Warn(format, args...) }

// Error logs to the default logger
func Error(format string, args ...interface{}) { GetDefaultLogger().Error(format, args...) }
