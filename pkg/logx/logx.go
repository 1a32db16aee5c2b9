// Package logx provides the component logger used across storepilot, with
// domain-filtered debug logging and an in-memory buffer for the web UI.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// ctxKey is the context key type for the component id carried by Debug.
type ctxKey struct{}

// LogEntry is one buffered log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Domain    string    `json:"domain,omitempty"`
}

// Logger writes lines tagged with a component name.
type Logger struct {
	component string
}

//nolint:gochecknoglobals // process-wide logging switches and sink
var (
	mu        sync.RWMutex
	out       io.Writer = os.Stderr
	debugOn   bool
	domains   map[string]bool // nil means every domain
	buffer    = newRingBuffer(1000)
	defaultLg = NewLogger("system")
)

func init() { //nolint:gochecknoinits // env-driven debug switches
	configureFromEnv()
}

func configureFromEnv() {
	mu.Lock()
	defer mu.Unlock()

	if v := os.Getenv("STOREPILOT_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugOn = true
	}
	if v := os.Getenv("STOREPILOT_DEBUG_DOMAINS"); v != "" {
		domains = parseDomains(strings.Split(v, ","))
	}
}

func parseDomains(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]bool, len(list))
	for _, d := range list {
		if d = strings.TrimSpace(d); d != "" {
			m[d] = true
		}
	}
	return m
}

// NewLogger returns a logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a logger sharing the sink under a different name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// SetOutput redirects all loggers. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetDebug toggles debug output and restricts it to the given domains
// (empty means all domains).
func SetDebug(enabled bool, debugDomains ...string) {
	mu.Lock()
	defer mu.Unlock()
	debugOn = enabled
	domains = parseDomains(debugDomains)
}

// IsDebugEnabled reports whether debug output is on.
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugOn
}

// IsDebugEnabledForDomain reports whether debug output is on for domain.
func IsDebugEnabledForDomain(domain string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !debugOn {
		return false
	}
	if domains == nil {
		return true
	}
	return domains[domain]
}

func (l *Logger) write(level Level, domain, msg string) {
	now := time.Now().UTC()
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", now.Format(timestampFormat), l.component, level, msg)

	mu.RLock()
	w := out
	mu.RUnlock()
	_, _ = io.WriteString(w, line)

	buffer.add(LogEntry{
		Timestamp: now,
		Component: l.component,
		Level:     level,
		Message:   msg,
		Domain:    domain,
	})
}

// Debug logs when debug output is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.write(LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.write(LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.write(LevelError, "", fmt.Sprintf(format, args...))
}

// WithContextComponent stores a component id for Debug to pick up.
func WithContextComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ctxKey{}, component)
}

// Debug logs a domain-scoped debug line, tagged with the component carried
// by ctx (see WithContextComponent).
//
//	logx.Debug(ctx, "workflow", "step %d -> %s", i, step.Agent)
//
// Enabled with STOREPILOT_DEBUG=1, narrowed with STOREPILOT_DEBUG_DOMAINS=workflow,autopilot.
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
			component = v
		}
	}
	NewLogger(component).write(LevelDebug, domain, fmt.Sprintf("[%s] %s", domain, fmt.Sprintf(format, args...)))
}

// Infof logs through the system logger.
func Infof(format string, args ...any) {
	defaultLg.Info(format, args...)
}

// Warnf logs through the system logger.
func Warnf(format string, args ...any) {
	defaultLg.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	return logx.Errorf("open audit store: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLg.Error("%s", err.Error())
	return err
}

// Wrap logs and returns fmt.Errorf("%s: %w", msg, err). A nil err stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLg.Error("%s", wrapped.Error())
	return wrapped
}

// GetRecentLogEntries returns buffered entries, optionally filtered by
// component and start time.
func GetRecentLogEntries(component string, since time.Time) []LogEntry {
	return buffer.snapshot(component, since)
}

type ringBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	max     int
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (b *ringBuffer) add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

func (b *ringBuffer) snapshot(component string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		e := b.entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		result = append(result, e)
	}
	return result
}
