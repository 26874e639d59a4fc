// Package logging wraps log/slog with a component field and the request
// logger used by the HTTP surface.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOwner       = "owner"
	FieldTransaction = "transaction_id"
	FieldPayment     = "payment_id"
	FieldOperation   = "operation"
	FieldCapital     = "capital_delta"
	FieldProfit      = "profit_delta"
	FieldError       = "error"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
)

// Components
const (
	ComponentApp       = "app"
	ComponentEngine    = "engine"
	ComponentStorage   = "storage"
	ComponentHTTP      = "http"
	ComponentScheduler = "scheduler"
	ComponentAMQP      = "amqp"
)

// Logger wraps slog.Logger with a component name.
type Logger struct {
	*slog.Logger
	base      slog.Handler
	component string
}

// Config holds logger configuration
type Config struct {
	Level     slog.Level
	Format    string // "text" or "json"
	Component string
	Output    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		Component: ComponentApp,
		Output:    os.Stdout,
	}
}

// New creates a logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	component := cfg.Component
	if component == "" {
		component = ComponentApp
	}
	return &Logger{
		Logger:    slog.New(handler).With(FieldComponent, component),
		base:      handler,
		component: component,
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return New(Config{Output: io.Discard})
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		base:      l.base,
		component: l.component,
	}
}

// WithComponent returns a new logger with a specific component name.
// Attributes added through With are not carried over.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    slog.New(l.base).With(FieldComponent, component),
		base:      l.base,
		component: component,
	}
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// SetDefault sets the default logger for the application
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Failed logs err at Error level under FieldError.
func (l *Logger) Failed(ctx context.Context, msg string, err error, args ...any) {
	l.Logger.ErrorContext(ctx, msg, append([]any{FieldError, err}, args...)...)
}
