// Package logging provides levelled console logging for courier components.
// Task records in the store are the durable trail; this package is for
// real-time monitoring of the orchestrator, bus, skills and sandbox.
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

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
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

// Logger writes structured lines to an io.Writer.
// Loggers derived with WithComponent share the parent's writer and lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// New creates a new Logger writing to stderr at INFO level.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *Logger) derive() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   l.traceID,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	d := l.derive()
	d.component = component
	return d
}

// WithTraceID returns a new logger tagging every line with trace=<id>.
func (l *Logger) WithTraceID(traceID string) *Logger {
	d := l.derive()
	d.traceID = traceID
	return d
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, " %s=%s", k, v)
	}
	return b.String()
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
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

// --- Domain logging helpers ---

// TaskStart logs the beginning of a task run.
func (l *Logger) TaskStart(taskID, chatID string, bound int) {
	l.Info("task_start", map[string]interface{}{
		"task":  taskID,
		"chat":  chatID,
		"bound": bound,
	})
}

// TaskComplete logs how a task run ended.
func (l *Logger) TaskComplete(taskID string, iterations int, duration time.Duration, outcome string) {
	l.Info("task_complete", map[string]interface{}{
		"task":       taskID,
		"iterations": iterations,
		"duration":   duration.String(),
		"outcome":    outcome,
	})
}

// StageDispatch logs a single agent dispatch.
func (l *Logger) StageDispatch(taskID, stage string, iteration int) {
	l.Debug("stage_dispatch", map[string]interface{}{
		"task":      taskID,
		"stage":     stage,
		"iteration": iteration,
	})
}

// SkillAudit writes the before/after audit line for a skill run.
// Only parameter names are logged, never values.
func (l *Logger) SkillAudit(phase, skill string, paramKeys []string, ok bool, duration time.Duration) {
	fields := map[string]interface{}{
		"phase":  phase,
		"skill":  skill,
		"params": strings.Join(paramKeys, ","),
	}
	if phase == "after" {
		fields["ok"] = ok
		fields["duration"] = duration.String()
	}
	l.Info("skill_audit", fields)
}

// SandboxExec logs a sandboxed process outcome.
func (l *Logger) SandboxExec(command string, exitCode int, duration time.Duration) {
	l.Debug("sandbox_exec", map[string]interface{}{
		"command":  command,
		"exit":     exitCode,
		"duration": duration.String(),
	})
}

// PayloadDropped logs an undecodable bus payload.
func (l *Logger) PayloadDropped(channel string, err error) {
	l.Warn("payload_dropped", map[string]interface{}{
		"channel": channel,
		"error":   err.Error(),
	})
}

// HandlerFailed logs a subscriber that returned an error or panicked.
func (l *Logger) HandlerFailed(channel string, err error) {
	l.Error("handler_failed", map[string]interface{}{
		"channel": channel,
		"error":   err.Error(),
	})
}

// SecurityDecision logs a policy verdict.
func (l *Logger) SecurityDecision(subject, action, reason string) {
	l.Info("security", map[string]interface{}{
		"subject": subject,
		"action":  action,
		"reason":  reason,
	})
}
