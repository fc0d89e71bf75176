// Package logging provides real-time console output for ecosystem monitoring.
// The feedback collector's outcome windows are the observational record; this
// package only derives human-readable lines from coordination events.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled key=value lines to a single writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger writing to stdout at info level.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Event-derived logging methods ---
// Called by the bus, registry, and learner as coordination events occur.

// Delivered logs a successful envelope hand-off.
func (l *Logger) Delivered(envelopeID, moduleID string, queued int) {
	l.Debug("delivered", map[string]interface{}{
		"envelope": envelopeID,
		"module":   moduleID,
		"queued":   queued,
	})
}

// Rejected logs a refused or shed delivery attempt.
func (l *Logger) Rejected(envelopeID, moduleID, reason string) {
	l.Debug("rejected", map[string]interface{}{
		"envelope": envelopeID,
		"module":   moduleID,
		"reason":   reason,
	})
}

// DeadLetter logs an envelope routed to the dead-letter sink.
func (l *Logger) DeadLetter(envelopeID, reason string) {
	l.Warn("dead_letter", map[string]interface{}{
		"envelope": envelopeID,
		"reason":   reason,
	})
}

// DuplicateResponse logs a response that arrived after its pending entry
// resolved. The duplicate is discarded, never delivered twice.
func (l *Logger) DuplicateResponse(responseTo, envelopeID string) {
	l.Warn("duplicate_response_discarded", map[string]interface{}{
		"response_to": responseTo,
		"envelope":    envelopeID,
	})
}

// StatusChanged logs a module status transition.
func (l *Logger) StatusChanged(moduleID, from, to string) {
	l.Info("status_changed", map[string]interface{}{
		"module": moduleID,
		"from":   from,
		"to":     to,
	})
}

// WeightAdjusted logs a learning-driven routing weight change.
func (l *Logger) WeightAdjusted(moduleID string, delta, weight float64) {
	l.Debug("weight_adjusted", map[string]interface{}{
		"module": moduleID,
		"delta":  fmt.Sprintf("%+.4f", delta),
		"weight": fmt.Sprintf("%.4f", weight),
	})
}

// LearningPass logs the completion of one learning pass.
func (l *Logger) LearningPass(modules int, duration time.Duration) {
	l.Info("learning_pass", map[string]interface{}{
		"modules":  modules,
		"duration": duration.String(),
	})
}

// ModuleJoined logs a module completing admission.
func (l *Logger) ModuleJoined(moduleID, name string, capabilities int) {
	l.Info("module_joined", map[string]interface{}{
		"module":       moduleID,
		"name":         name,
		"capabilities": capabilities,
	})
}

// ModuleLeft logs a module deregistration.
func (l *Logger) ModuleLeft(moduleID string) {
	l.Info("module_left", map[string]interface{}{
		"module": moduleID,
	})
}

// HandlerPanic logs a recovered handler panic.
func (l *Logger) HandlerPanic(moduleID, envelopeID string, err error) {
	l.Error("handler_panic", map[string]interface{}{
		"module":   moduleID,
		"envelope": envelopeID,
		"error":    err.Error(),
	})
}
