package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrorObject represents the error format.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack,omitempty"`
}

// LogEntry represents the structured log format.
type LogEntry struct {
	Timestamp string       `json:"timestamp"`
	Level     string       `json:"level"`
	Service   string       `json:"service"`
	Action    string       `json:"action"`
	Message   string       `json:"message"`
	Hostname  string       `json:"hostname"`
	RequestID string       `json:"request_id"`
	Error     *ErrorObject `json:"error,omitempty"`
	Details   any          `json:"details,omitempty"`
}

// Logger writes one JSON object per line.
type Logger struct {
	service  string
	hostname string
	stack    bool

	mu  sync.Mutex
	out io.Writer
}

// NewLogger creates a structured logger writing to stdout.
func NewLogger(service string) *Logger {
	return NewLoggerTo(service, os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
func NewLoggerTo(service string, w io.Writer) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Logger{
		service:  service,
		hostname: hostname,
		stack:    true,
		out:      w,
	}
}

// Named returns a logger for another service sharing the same output.
func (logger *Logger) Named(service string) *Logger {
	return &Logger{
		service:  service,
		hostname: logger.hostname,
		stack:    logger.stack,
		out:      &lockedWriter{mu: &logger.mu, w: logger.out},
	}
}

// WithoutStacks disables stack capture on ERROR entries.
func (logger *Logger) WithoutStacks() *Logger {
	logger.stack = false
	return logger
}

// Define an unexported type for context keys.
type ctxKey string

// requestIDKey is the context key for the request ID.
const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying a request id (useful for mq hops).
func (logger *Logger) WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// WithNewRequestID returns a context carrying a fresh random request id.
func (logger *Logger) WithNewRequestID(ctx context.Context) context.Context {
	return logger.WithRequestID(ctx, uuid.NewString())
}

// RequestIDFrom returns the request id saved in the context.
func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// emit marshals the provided log entry.
func (logger *Logger) emit(entry LogEntry) {
	b, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
		return
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.out.Write(append(b, '\n'))
}

func (logger *Logger) entry(ctx context.Context, level, action, msg string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   logger.service,
		Action:    action,
		Message:   msg,
		Hostname:  logger.hostname,
		RequestID: RequestIDFrom(ctx),
	}
}

// -- Logger helper functions --

func (logger *Logger) Info(ctx context.Context, action, msg string, details any) {
	e := logger.entry(ctx, "INFO", action, msg)
	e.Details = details
	logger.emit(e)
}

func (logger *Logger) Debug(ctx context.Context, action, msg string, details any) {
	e := logger.entry(ctx, "DEBUG", action, msg)
	e.Details = details
	logger.emit(e)
}

func (logger *Logger) Warn(ctx context.Context, action, msg string, details any) {
	e := logger.entry(ctx, "WARN", action, msg)
	e.Details = details
	logger.emit(e)
}

// Error logs err with a stack trace; details are optional.
func (logger *Logger) Error(ctx context.Context, action, msg string, err error, details ...any) {
	e := logger.entry(ctx, "ERROR", action, msg)
	if err != nil {
		e.Error = &ErrorObject{Msg: err.Error()}
		if logger.stack {
			e.Error.Stack = string(debug.Stack())
		}
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	logger.emit(e)
}

// lockedWriter lets derived loggers share the parent's lock.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
