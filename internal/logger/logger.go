package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

// String returns the string representation of the log level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", s)
}

// Fields is a map of log fields
type Fields map[string]interface{}

// Entry is a single JSON log line
type Entry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         string                 `json:"level"`
	Component     string                 `json:"component,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Message       string                 `json:"message"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes leveled, structured log lines to a single output.
type Logger struct {
	mu               sync.RWMutex
	level            Level
	format           string // json or text
	output           io.Writer
	componentLevels  map[string]Level
	sanitizePatterns []*regexp.Regexp
}

var (
	globalLogger *Logger
	loggerMu     sync.RWMutex
)

// New creates a new logger instance
func New(level Level, format string, output io.Writer) *Logger {
	return &Logger{
		level:           level,
		format:          format,
		output:          output,
		componentLevels: make(map[string]Level),
	}
}

// Init initializes the global logger
func Init(level Level, format string, output io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = New(level, format, output)
}

// Get returns the global logger. Before Init it falls back to an
// info-level JSON logger on stderr.
func Get() *Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(InfoLevel, "json", os.Stderr)
	}
	return globalLogger
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetComponentLevel overrides the level for one component
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetSanitizePatterns sets the regex patterns matched against field keys
// whose values must be redacted.
func (l *Logger) SetSanitizePatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid sanitize pattern %s: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sanitizePatterns = compiled
	return nil
}

func (l *Logger) enabled(level Level, component string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if componentLevel, ok := l.componentLevels[component]; ok {
		return level >= componentLevel
	}
	return level >= l.level
}

func (l *Logger) sanitize(fields Fields) Fields {
	l.mu.RLock()
	patterns := l.sanitizePatterns
	l.mu.RUnlock()

	if len(patterns) == 0 || len(fields) == 0 {
		return fields
	}

	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = v
		for _, pattern := range patterns {
			if !pattern.MatchString(k) {
				continue
			}
			if str, ok := v.(string); ok && len(str) > 4 {
				out[k] = "***" + str[len(str)-4:]
			} else {
				out[k] = "***"
			}
			break
		}
	}
	return out
}

func (l *Logger) write(level Level, component, correlationID, message string, fields Fields) {
	if !l.enabled(level, component) {
		return
	}

	entry := Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         level.String(),
		Component:     component,
		CorrelationID: correlationID,
		Message:       message,
		Fields:        l.sanitize(fields),
	}

	var line []byte
	if l.format == "json" {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
			return
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(entry))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write(line)
}

func formatText(entry Entry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp)
	b.WriteByte(' ')
	b.WriteString(entry.Level)
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	if entry.CorrelationID != "" {
		fmt.Fprintf(&b, " [%s]", entry.CorrelationID)
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.write(DebugLevel, "", "", message, mergeFields(fields...))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.write(InfoLevel, "", "", message, mergeFields(fields...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.write(WarnLevel, "", "", message, mergeFields(fields...))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.write(ErrorLevel, "", "", message, mergeFields(fields...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.write(FatalLevel, "", "", message, mergeFields(fields...))
	os.Exit(1)
}

// WithComponent creates a component logger
func (l *Logger) WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{ContextLogger{logger: l, component: component}}
}

// ContextLogger logs on behalf of a component within one request.
type ContextLogger struct {
	logger        *Logger
	component     string
	correlationID string
}

func (c *ContextLogger) Debug(message string, fields ...Fields) {
	c.logger.write(DebugLevel, c.component, c.correlationID, message, mergeFields(fields...))
}

func (c *ContextLogger) Info(message string, fields ...Fields) {
	c.logger.write(InfoLevel, c.component, c.correlationID, message, mergeFields(fields...))
}

func (c *ContextLogger) Warn(message string, fields ...Fields) {
	c.logger.write(WarnLevel, c.component, c.correlationID, message, mergeFields(fields...))
}

func (c *ContextLogger) Error(message string, fields ...Fields) {
	c.logger.write(ErrorLevel, c.component, c.correlationID, message, mergeFields(fields...))
}

func (c *ContextLogger) Fatal(message string, fields ...Fields) {
	c.logger.write(FatalLevel, c.component, c.correlationID, message, mergeFields(fields...))
	os.Exit(1)
}

// ComponentLogger is a logger bound to a named component
type ComponentLogger struct {
	ContextLogger
}

// WithCorrelationID binds a correlation ID to the component logger
func (cl *ComponentLogger) WithCorrelationID(correlationID string) *ContextLogger {
	return &ContextLogger{
		logger:        cl.logger,
		component:     cl.component,
		correlationID: correlationID,
	}
}

// WithContext binds the correlation ID carried by ctx, if any
func (cl *ComponentLogger) WithContext(ctx context.Context) *ContextLogger {
	return cl.WithCorrelationID(GetCorrelationID(ctx))
}

func mergeFields(fields ...Fields) Fields {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}

	result := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			result[k] = v
		}
	}
	return result
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// FromContext creates a component logger carrying the request's correlation ID
func FromContext(ctx context.Context, component string) *ContextLogger {
	return Get().WithComponent(component).WithContext(ctx)
}

// Global convenience functions
func Debug(message string, fields ...Fields) { Get().Debug(message, fields...) }
func Info(message string, fields ...Fields)  { Get().Info(message, fields...) }
func Warn(message string, fields ...Fields)  { Get().Warn(message, fields...) }
func Error(message string, fields ...Fields) { Get().Error(message, fields...) }
